// Package lobby interprets the ordered stream of lobby events into one of
// four review phases and the client actions legal in each.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/protocol"
	"github.com/costclaim/groupview/internal/rest"
	"github.com/costclaim/groupview/internal/roster"
	"github.com/costclaim/groupview/internal/session"
)

// Phase is the lobby's current step. Exactly one is active at a time.
type Phase string

const (
	PhaseJoin       Phase = "join"
	PhaseReady      Phase = "ready"
	PhaseItemReview Phase = "item"
	PhaseFinished   Phase = "finished"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrWrongPhase   = errors.New("action not legal in current phase")
	ErrNoStatusFlip = errors.New("status already matches")
)

const (
	msgAllFieldsRequired = "Please fill in all fields."
	msgDateNotFound      = "Receipt Date Not Found"
)

// Sender is the single outbound funnel, satisfied by conn.Manager.
type Sender interface {
	Send(action any) error
}

// Settlement is the terminal data for a finished lobby, immutable once set.
type Settlement struct {
	Payer  int
	Shares map[int]string
}

// Machine holds all lobby-scoped state. Event handlers mutate phase and
// snapshot together under one lock, so no intermediate inconsistent state is
// ever observable.
type Machine struct {
	sender  Sender
	session *session.Context
	roster  *roster.Store
	rest    *rest.Client
	notices *notice.Board
	logger  *zap.Logger

	mu         sync.Mutex
	phase      Phase
	validDates map[string]bool
	online     map[int]bool
	active     map[int]bool
	time       *int
	item       *protocol.Item
	claimer    *protocol.User
	settlement *Settlement

	subs []*dispatch.Subscription
}

type Config struct {
	Sender  Sender
	Session *session.Context
	Roster  *roster.Store
	Rest    *rest.Client // optional; valid receipt dates fetch on Attach
	Notices *notice.Board
	Logger  *zap.Logger
}

func NewMachine(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notices == nil {
		cfg.Notices = &notice.Board{}
	}
	return &Machine{
		sender:     cfg.Sender,
		session:    cfg.Session,
		roster:     cfg.Roster,
		rest:       cfg.Rest,
		notices:    cfg.Notices,
		logger:     cfg.Logger,
		phase:      PhaseJoin,
		validDates: make(map[string]bool),
	}
}

// Attach subscribes the machine to its event types and starts the one-shot
// fetch of valid receipt dates.
func (m *Machine) Attach(d *dispatch.Dispatcher) {
	m.subs = []*dispatch.Subscription{
		d.Subscribe(protocol.EvtLobbyInit, m.onInit),
		d.Subscribe(protocol.EvtLobbyUserChange, m.onUserChange),
		d.Subscribe(protocol.EvtLobbyTimeChange, m.onTimeChange),
		d.Subscribe(protocol.EvtLobbyItemChange, m.onItemChange),
		d.Subscribe(protocol.EvtLobbyItemClaim, m.onItemClaim),
		d.Subscribe(protocol.EvtLobbyFinished, m.onFinished),
		d.Subscribe(protocol.EvtLobbyError, m.onError),
		d.Subscribe(protocol.EvtUserChange, m.onSessionChange),
	}
	if m.rest != nil {
		go m.fetchValidDates()
	}
}

// Close unsubscribes every callback and leaves the lobby if one is active.
func (m *Machine) Close(d *dispatch.Dispatcher) {
	for _, sub := range m.subs {
		d.Unsubscribe(sub)
	}
	m.subs = nil

	m.mu.Lock()
	leaving := m.phase != PhaseJoin
	m.resetToJoinLocked()
	m.mu.Unlock()
	if leaving {
		_ = m.sender.Send(protocol.LeaveLobby{Action: protocol.ActLeaveLobby})
	}
}

func (m *Machine) fetchValidDates() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dates, err := m.rest.ValidReceipts(ctx)
	if err != nil {
		m.logger.Warn("valid receipts fetch failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	m.validDates = make(map[string]bool, len(dates))
	for _, date := range dates {
		m.validDates[date] = true
	}
	m.mu.Unlock()
}

// SetValidDates replaces the joinable date set directly. Used when the fetch
// is driven externally.
func (m *Machine) SetValidDates(dates []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validDates = make(map[string]bool, len(dates))
	for _, date := range dates {
		m.validDates[date] = true
	}
}

// --- inbound transitions ---

func (m *Machine) onInit(raw []byte) {
	var msg protocol.LobbyInit
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Debug("bad lobby_init payload", zap.Error(err))
		return
	}
	state := msg.LobbyState

	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = toSet(state.AllUsers)
	m.active = toSet(state.ActiveUsers)
	m.time = state.Time
	m.item = state.Item
	m.claimer = state.ExclusiveActiveUser
	m.settlement = nil
	if state.Item == nil {
		m.phase = PhaseReady
	} else {
		m.phase = PhaseItemReview
	}
	m.notices.Clear()
	m.logger.Info("lobby joined", zap.String("phase", string(m.phase)))
}

func (m *Machine) onUserChange(raw []byte) {
	var msg protocol.LobbyUserChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inReviewLocked() {
		return
	}
	m.online = toSet(msg.AllUsers)
	m.active = toSet(msg.ActiveUsers)
}

func (m *Machine) onTimeChange(raw []byte) {
	var msg protocol.LobbyTimeChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inReviewLocked() {
		return
	}
	m.time = msg.Time
}

// onItemChange replaces the item wholesale and clears countdown and claimer;
// the clearing is part of this transition, not an incidental overwrite.
func (m *Machine) onItemChange(raw []byte) {
	var msg protocol.LobbyItemChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inReviewLocked() {
		return
	}
	item := msg.Item
	m.item = &item
	m.active = toSet(msg.ActiveUsers)
	m.time = nil
	m.claimer = nil
	if m.phase != PhaseItemReview {
		m.phase = PhaseItemReview
		m.notices.Clear()
	}
}

func (m *Machine) onItemClaim(raw []byte) {
	var msg protocol.LobbyItemClaim
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inReviewLocked() {
		return
	}
	// Cleared only by the next item change.
	claimer := msg.User
	m.claimer = &claimer
}

func (m *Machine) onFinished(raw []byte) {
	var msg protocol.LobbyFinished
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inReviewLocked() {
		return
	}
	m.settlement = &Settlement{Payer: msg.Payer, Shares: msg.Shares}
	m.phase = PhaseFinished
	m.logger.Info("lobby finished", zap.Int("payer", msg.Payer))
}

// onSessionChange forces the phase back to Join when the session is cleared,
// which is how connection loss implicitly ends a lobby session.
func (m *Machine) onSessionChange(raw []byte) {
	var msg protocol.UserChange
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Valid {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseJoin {
		m.resetToJoinLocked()
		m.logger.Info("lobby session ended by logout or connection loss")
	}
}

func (m *Machine) onError(raw []byte) {
	var msg protocol.MessageEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.notices.Error(msg.Message)
}

// --- outbound actions ---

// JoinLobby validates the receipt date locally before sending; an unknown
// date is rejected without touching the wire.
func (m *Machine) JoinLobby(receiptDate string) error {
	receiptDate = strings.TrimSpace(receiptDate)
	if receiptDate == "" {
		m.notices.Error(msgAllFieldsRequired)
		return errors.New(msgAllFieldsRequired)
	}
	m.mu.Lock()
	if m.phase != PhaseJoin {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	known := m.validDates[receiptDate]
	m.mu.Unlock()
	if !known {
		m.notices.Error(msgDateNotFound)
		return errors.New(msgDateNotFound)
	}
	return m.sender.Send(protocol.JoinLobby{Action: protocol.ActJoinLobby, ReceiptDate: receiptDate})
}

// ChangeStatus toggles readiness, only in the direction consistent with the
// current active set, and optimistically updates the local set in the same
// step. Sending the same direction twice without a server update is a no-op.
func (m *Machine) ChangeStatus(ready bool) error {
	self, ok := m.session.User()
	if !ok {
		return ErrNotLoggedIn
	}

	m.mu.Lock()
	if !m.inReviewLocked() {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	if m.active[self.UserID] == ready {
		m.mu.Unlock()
		return ErrNoStatusFlip
	}
	if ready {
		m.active[self.UserID] = true
	} else {
		delete(m.active, self.UserID)
	}
	m.mu.Unlock()

	newStatus := "false"
	if ready {
		newStatus = "true"
	}
	return m.sender.Send(protocol.ChangeStatus{Action: protocol.ActChangeStatus, NewStatus: newStatus})
}

// ClaimItem optimistically records self as the claimer before the server
// acknowledges. The server's lobby_item_claim echo is authoritative and
// overwrites unconditionally.
func (m *Machine) ClaimItem() error {
	self, ok := m.session.User()
	if !ok {
		return ErrNotLoggedIn
	}

	m.mu.Lock()
	if m.phase != PhaseItemReview || m.item == nil {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	itemID := m.item.ID
	m.claimer = &self
	m.mu.Unlock()

	return m.sender.Send(protocol.ClaimItem{Action: protocol.ActClaimItem, ItemID: itemID})
}

// LeaveLobby leaves explicitly and returns to the Join phase.
func (m *Machine) LeaveLobby() error {
	m.mu.Lock()
	if m.phase == PhaseJoin {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	m.resetToJoinLocked()
	m.mu.Unlock()
	return m.sender.Send(protocol.LeaveLobby{Action: protocol.ActLeaveLobby})
}

// BackToJoin navigates from a finished lobby to the join page. No server
// event is required.
func (m *Machine) BackToJoin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseFinished {
		return ErrWrongPhase
	}
	m.resetToJoinLocked()
	return nil
}

// --- views ---

// View is a consistent phase + phase-data snapshot.
type View struct {
	Phase        Phase
	OnlineUsers  []int
	ActiveUsers  []int
	Time         *int
	Item         *protocol.Item
	ClaimerLabel string
	Settlement   *Settlement
	Notice       notice.Notice
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		Phase:       m.phase,
		OnlineUsers: fromSet(m.online),
		ActiveUsers: fromSet(m.active),
		Time:        m.time,
		Item:        m.item,
		Settlement:  m.settlement,
		Notice:      m.notices.Current(),
	}
	if m.claimer != nil {
		if self, ok := m.session.User(); ok && self.UserID == m.claimer.UserID {
			v.ClaimerLabel = "You are"
		} else {
			v.ClaimerLabel = m.claimer.Name + " is"
		}
	}
	return v
}

// Phase returns the current phase alone.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) inReviewLocked() bool {
	return m.phase == PhaseReady || m.phase == PhaseItemReview
}

func (m *Machine) resetToJoinLocked() {
	m.phase = PhaseJoin
	m.online = nil
	m.active = nil
	m.time = nil
	m.item = nil
	m.claimer = nil
	m.settlement = nil
	m.notices.Clear()
}

func toSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func fromSet(set map[int]bool) []int {
	if set == nil {
		return nil
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
