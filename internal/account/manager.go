// Package account drives login, account creation, and credential changes.
// It is a pure consumer of the dispatcher; the server answers on user_change
// and account_error.
package account

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/protocol"
)

var ErrMissingFields = errors.New("all fields are required")

const msgAllFieldsRequired = "Please fill in all fields."

type Sender interface {
	Send(action any) error
}

type Manager struct {
	sender  Sender
	notices *notice.Board
	logger  *zap.Logger
	subs    []*dispatch.Subscription
}

func NewManager(sender Sender, notices *notice.Board, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notices == nil {
		notices = &notice.Board{}
	}
	return &Manager{sender: sender, notices: notices, logger: logger}
}

func (m *Manager) Attach(d *dispatch.Dispatcher) {
	m.subs = []*dispatch.Subscription{
		d.Subscribe(protocol.EvtAccountError, m.onAccountError),
		d.Subscribe(protocol.EvtUserChange, m.onUserChange),
	}
}

func (m *Manager) Close(d *dispatch.Dispatcher) {
	for _, sub := range m.subs {
		d.Unsubscribe(sub)
	}
	m.subs = nil
}

func (m *Manager) Notice() notice.Notice { return m.notices.Current() }

func (m *Manager) onAccountError(raw []byte) {
	var msg protocol.MessageEvent
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	m.notices.Error(msg.Message)
}

// onUserChange surfaces the success message a user_change may carry
// (logged in, logged out, password changed).
func (m *Manager) onUserChange(raw []byte) {
	var msg protocol.UserChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Message != "" {
		m.notices.Success(msg.Message)
	}
}

func (m *Manager) Login(username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		m.notices.Error(msgAllFieldsRequired)
		return ErrMissingFields
	}
	return m.sender.Send(protocol.Login{Action: protocol.ActLogin, Username: username, Password: password})
}

func (m *Manager) CreateAccount(name, username, password string) error {
	name = capitalize(strings.TrimSpace(name))
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if name == "" || username == "" || password == "" {
		m.notices.Error(msgAllFieldsRequired)
		return ErrMissingFields
	}
	return m.sender.Send(protocol.CreateAccount{
		Action:   protocol.ActCreateAccount,
		Name:     name,
		Username: username,
		Password: password,
	})
}

func (m *Manager) ChangeUsername(password, newUsername string) error {
	password = strings.TrimSpace(password)
	newUsername = strings.TrimSpace(newUsername)
	if password == "" || newUsername == "" {
		m.notices.Error(msgAllFieldsRequired)
		return ErrMissingFields
	}
	return m.sender.Send(protocol.ChangeUsername{
		Action:      protocol.ActChangeUsername,
		Password:    password,
		NewUsername: newUsername,
	})
}

func (m *Manager) ChangePassword(password, newPassword string) error {
	if password == "" || newPassword == "" {
		m.notices.Error(msgAllFieldsRequired)
		return ErrMissingFields
	}
	return m.sender.Send(protocol.ChangePassword{
		Action:      protocol.ActChangePassword,
		Password:    password,
		NewPassword: newPassword,
	})
}

func (m *Manager) Logout() error {
	return m.sender.Send(protocol.Logout{Action: protocol.ActLogout})
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
