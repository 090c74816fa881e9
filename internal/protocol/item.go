package protocol

import (
	"math"
	"strconv"
)

// Item is one receipt line. It is owned by the current lobby snapshot and
// replaced wholesale on every item change.
type Item struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Src        string `json:"src"`
	Count      int    `json:"count"`
	Price      string `json:"price"`
	Taxed      bool   `json:"taxed"`
	BuyerNames string `json:"buyer_names,omitempty"`
}

const taxRate = 1.08

// UnitPrice parses the decimal wire price. Unparseable prices read as zero.
func (it Item) UnitPrice() float64 {
	price, err := strconv.ParseFloat(it.Price, 64)
	if err != nil {
		return 0
	}
	return price
}

// TotalPrice is count * price, with tax applied when the item is taxed,
// rounded to two decimal places and formatted for display.
func (it Item) TotalPrice() string {
	total := float64(it.Count) * it.UnitPrice()
	if it.Taxed {
		total *= taxRate
	}
	return strconv.FormatFloat(math.Round(total*100)/100, 'f', 2, 64)
}

// TaxedLabel renders the taxed flag as a yes/no label.
func (it Item) TaxedLabel() string {
	if it.Taxed {
		return "Yes"
	}
	return "No"
}
