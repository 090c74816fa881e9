package lobby

import "github.com/costclaim/groupview/internal/protocol"

// ShareLine is one name-resolved owed amount.
type ShareLine struct {
	Name   string
	Amount string
}

// SettlementView is the rendered settlement: who paid, what the viewer owes,
// and what everyone else owes. The payer never appears among the other
// shares, even when the mapping carries an amount for them.
type SettlementView struct {
	PayerName   string
	YourShare   string
	OtherShares []ShareLine
}

// Summarize resolves a settlement against the roster for the given viewer.
// Users are walked in roster order, so share lines come out sorted by
// user_id.
func (s *Settlement) Summarize(users []protocol.User, selfID int) SettlementView {
	var view SettlementView
	for _, u := range users {
		if u.UserID == s.Payer {
			view.PayerName = u.Name
			continue
		}
		amount, owes := s.Shares[u.UserID]
		if !owes {
			continue
		}
		if u.UserID == selfID {
			view.YourShare = amount
		} else {
			view.OtherShares = append(view.OtherShares, ShareLine{Name: u.Name, Amount: amount})
		}
	}
	return view
}
