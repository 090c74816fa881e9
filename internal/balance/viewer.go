// Package balance consumes the balances event and renders net positions
// against the roster.
package balance

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/protocol"
	"github.com/costclaim/groupview/internal/roster"
)

type Sender interface {
	Send(action any) error
}

// ShareLine is one name-resolved amount.
type ShareLine struct {
	Name   string
	Amount string
}

// View is the rendered balance sheet. Settled is true when nothing is
// outstanding in either direction.
type View struct {
	Settled     bool
	AmountsDue  []ShareLine // money the user should get back
	AmountsOwed []ShareLine // money the user should give back
}

type Viewer struct {
	sender Sender
	roster *roster.Store
	logger *zap.Logger

	mu      sync.Mutex
	netDue  map[int]string
	netOwed map[int]string

	sub *dispatch.Subscription
}

func NewViewer(sender Sender, store *roster.Store, logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{sender: sender, roster: store, logger: logger}
}

// Attach subscribes to balances and requests an initial snapshot.
func (v *Viewer) Attach(d *dispatch.Dispatcher) {
	v.sub = d.Subscribe(protocol.EvtBalances, v.onBalances)
	_ = v.Refresh()
}

func (v *Viewer) Close(d *dispatch.Dispatcher) {
	d.Unsubscribe(v.sub)
	v.sub = nil
}

// Refresh asks the server for the current balances.
func (v *Viewer) Refresh() error {
	return v.sender.Send(protocol.ViewBalances{Action: protocol.ActViewBalances})
}

func (v *Viewer) onBalances(raw []byte) {
	var msg protocol.Balances
	if err := json.Unmarshal(raw, &msg); err != nil {
		v.logger.Debug("bad balances payload", zap.Error(err))
		return
	}
	v.mu.Lock()
	v.netDue = msg.NetDue
	v.netOwed = msg.NetOwed
	v.mu.Unlock()
}

func (v *Viewer) View() View {
	v.mu.Lock()
	due, owed := v.netDue, v.netOwed
	v.mu.Unlock()

	users := v.roster.All()
	return View{
		Settled:     due == nil && owed == nil,
		AmountsDue:  resolve(users, due),
		AmountsOwed: resolve(users, owed),
	}
}

// resolve walks the roster in order so lines come out sorted by user_id.
func resolve(users []protocol.User, amounts map[int]string) []ShareLine {
	if amounts == nil {
		return nil
	}
	lines := make([]ShareLine, 0, len(amounts))
	for _, u := range users {
		if amount, ok := amounts[u.UserID]; ok {
			lines = append(lines, ShareLine{Name: u.Name, Amount: amount})
		}
	}
	return lines
}
