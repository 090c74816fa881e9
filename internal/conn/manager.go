// Package conn owns the single transport channel. All sends funnel through
// Manager.Send; nothing else may hold the connection.
package conn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/protocol"
	"github.com/costclaim/groupview/internal/rest"
	"github.com/costclaim/groupview/internal/roster"
)

// Status mirrors the transport readiness states surfaced to the console.
type Status int

const (
	StatusUnopened Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusOpen:
		return "OPEN"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNOPENED"
	}
}

var ErrNoConnection = errors.New("no active connection")

const noConnectionWarning = "This action requires an active connection to the server. Try reconnecting in the console."

const writeTimeout = 3 * time.Second

type Config struct {
	URL        string
	Dispatcher *dispatch.Dispatcher
	Dialer     Dialer        // defaults to WebSocketDialer
	Rest       *rest.Client  // optional roster side fetch on connect
	Roster     *roster.Store // optional
	Warnings   *notice.Board // optional user-visible warnings
	Logger     *zap.Logger
}

// link is one transport connection. At most one link is live at a time.
type link struct {
	id     string
	conn   Conn
	status Status // guarded by Manager.mu
}

type Manager struct {
	url         string
	dialer      Dialer
	dispatcher  *dispatch.Dispatcher
	restClient  *rest.Client
	rosterStore *roster.Store
	warnings    *notice.Board
	logger      *zap.Logger

	mu  sync.Mutex
	cur *link

	logMu sync.Mutex
	lines []string
}

func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		url:         cfg.URL,
		dialer:      cfg.Dialer,
		dispatcher:  cfg.Dispatcher,
		restClient:  cfg.Rest,
		rosterStore: cfg.Roster,
		warnings:    cfg.Warnings,
		logger:      cfg.Logger,
	}
}

// Connect opens a new connection, closing any live one first so there are
// never two live connections. Safe to call at any time.
func (m *Manager) Connect(ctx context.Context) error {
	m.Close()

	l := &link{id: uuid.NewString(), status: StatusConnecting}
	m.mu.Lock()
	m.cur = l
	m.mu.Unlock()
	m.appendLog("[Info] Trying to open new socket...")

	// Side read of the roster. Resolves asynchronously and merges into the
	// store without blocking dispatch.
	if m.restClient != nil && m.rosterStore != nil {
		go m.fetchRoster()
	}

	c, err := m.dialer.Dial(ctx, m.url)

	m.mu.Lock()
	if m.cur != l {
		// A newer Connect superseded this dial while it was in flight.
		m.mu.Unlock()
		if err == nil {
			_ = c.Close()
		}
		return nil
	}
	if err != nil {
		l.status = StatusClosed
		m.mu.Unlock()
		m.appendLog("[Error] Could not open socket.")
		m.logger.Error("dial failed", zap.String("conn_id", l.id), zap.Error(err))
		m.synthesizeDisconnect()
		return fmt.Errorf("connect %s: %w", m.url, err)
	}
	if l.status != StatusConnecting {
		// Close was requested mid-dial.
		l.status = StatusClosed
		m.mu.Unlock()
		_ = c.Close()
		m.appendLog("[Info] Socket disconnected.")
		m.synthesizeDisconnect()
		return nil
	}
	l.conn = c
	l.status = StatusOpen
	m.mu.Unlock()

	m.appendLog("[Info] Opened new socket.")
	m.logger.Info("socket opened", zap.String("conn_id", l.id))
	go m.readLoop(l)
	return nil
}

// Close closes the live connection if it is Open or Connecting; otherwise it
// is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	l := m.cur
	if l == nil || (l.status != StatusConnecting && l.status != StatusOpen) {
		m.mu.Unlock()
		return
	}
	l.status = StatusClosing
	c := l.conn
	m.mu.Unlock()

	if c != nil {
		// The read loop observes the close error and finishes the teardown.
		_ = c.Close()
	}
}

// Send delivers action over the wire if the connection is Open. Otherwise the
// action is dropped with a user-visible warning, never queued. The diagnostic
// log gets a credential-redacted copy; the wire payload is unredacted.
func (m *Manager) Send(action any) error {
	m.mu.Lock()
	var c Conn
	if m.cur != nil && m.cur.status == StatusOpen {
		c = m.cur.conn
	}
	m.mu.Unlock()

	if c == nil {
		if m.warnings != nil {
			m.warnings.Error(noConnectionWarning)
		}
		m.logger.Warn("action dropped: no open connection")
		return ErrNoConnection
	}

	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.Write(ctx, data); err != nil {
		m.logger.Error("write failed", zap.Error(err))
		m.Close()
		return fmt.Errorf("send action: %w", err)
	}

	m.appendLog("[Sent] " + redact(data))
	return nil
}

// Status reports the current connection state, Unopened before the first
// Connect.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return StatusUnopened
	}
	return m.cur.status
}

// Log returns a copy of the diagnostic log lines.
func (m *Manager) Log() []string {
	m.logMu.Lock()
	defer m.logMu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

func (m *Manager) readLoop(l *link) {
	ctx := context.Background()
	for {
		data, err := l.conn.Read(ctx)
		if err != nil {
			// Transport errors are terminal for this connection; reconnect
			// is operator-triggered.
			break
		}
		m.appendLog("[Received] " + string(data))
		m.dispatcher.Notify(data)
	}

	m.mu.Lock()
	l.status = StatusClosed
	m.mu.Unlock()
	_ = l.conn.Close()

	m.appendLog("[Info] Socket disconnected.")
	m.logger.Info("socket disconnected", zap.String("conn_id", l.id))
	m.synthesizeDisconnect()
}

// synthesizeDisconnect is how every dependent feature learns about
// disconnection without polling connection state.
func (m *Manager) synthesizeDisconnect() {
	m.dispatcher.Notify([]byte(`{"type":"user_change","valid":false}`))
	m.dispatcher.Notify([]byte(`{"type":"account_error","message":"Connection Lost"}`))
}

func (m *Manager) fetchRoster() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	users, err := m.restClient.Users(ctx)
	if err != nil {
		m.logger.Warn("roster fetch failed", zap.Error(err))
		return
	}
	m.rosterStore.Replace(users)
}

func (m *Manager) appendLog(line string) {
	m.logMu.Lock()
	m.lines = append(m.lines, line)
	m.logMu.Unlock()
}

func redact(data []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return string(data)
	}
	for _, key := range protocol.SensitiveFields {
		if _, ok := obj[key]; ok {
			obj[key] = "<redacted>"
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return string(data)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
