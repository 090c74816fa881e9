// Package payment records settle-up payments between users.
package payment

import (
	"encoding/json"
	"errors"
	"regexp"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/protocol"
)

// amountPattern accepts positive dollar amounts, optionally with a leading $
// and exactly two decimals.
var amountPattern = regexp.MustCompile(`^\$?\d+(?:\.\d\d)?$`)

var ErrBadAmount = errors.New("amount must be a positive dollar amount")

const msgBadAmount = "Amount Must be a Positive Dollar Amount"

type Sender interface {
	Send(action any) error
}

type Recorder struct {
	sender  Sender
	notices *notice.Board
	logger  *zap.Logger
	subs    []*dispatch.Subscription
}

func NewRecorder(sender Sender, notices *notice.Board, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notices == nil {
		notices = &notice.Board{}
	}
	return &Recorder{sender: sender, notices: notices, logger: logger}
}

func (r *Recorder) Attach(d *dispatch.Dispatcher) {
	r.subs = []*dispatch.Subscription{
		d.Subscribe(protocol.EvtPaymentSuccess, r.onSuccess),
		d.Subscribe(protocol.EvtPaymentError, r.onError),
	}
}

func (r *Recorder) Close(d *dispatch.Dispatcher) {
	for _, sub := range r.subs {
		d.Unsubscribe(sub)
	}
	r.subs = nil
}

func (r *Recorder) Notice() notice.Notice { return r.notices.Current() }

func (r *Recorder) onSuccess(raw []byte) {
	var msg protocol.MessageEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	r.notices.Success(msg.Message)
}

func (r *Recorder) onError(raw []byte) {
	var msg protocol.MessageEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	r.notices.Error(msg.Message)
}

// Record validates the amount format locally; a malformed amount never
// reaches the wire.
func (r *Recorder) Record(userID int, amount string) error {
	if !amountPattern.MatchString(amount) {
		r.notices.Error(msgBadAmount)
		return ErrBadAmount
	}
	return r.sender.Send(protocol.RecordPayment{
		Action: protocol.ActRecordPayment,
		UserID: userID,
		Amount: amount,
	})
}
