// Package srvtest runs an in-process stand-in for the cost-claimer backend:
// the two REST read endpoints plus the group-view websocket, with a real
// bcrypt-hashed account store. Tests drive scripted lobby flows through it
// over actual network connections.
package srvtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/costclaim/groupview/internal/protocol"
)

type account struct {
	user protocol.User
	hash []byte
}

type sessionConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; pushes race with replies
}

func (sc *sessionConn) write(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.Write(ctx, websocket.MessageText, data)
}

type Server struct {
	httpSrv *httptest.Server

	mu         sync.Mutex
	accounts   map[string]*account
	nextUserID int
	roster     []protocol.User
	receipts   map[string]bool
	lobbyState protocol.LobbyState
	sessions   map[string]*sessionConn
	received   []map[string]any
}

func New() *Server {
	s := &Server{
		accounts:   make(map[string]*account),
		nextUserID: 1,
		receipts:   make(map[string]bool),
		sessions:   make(map[string]*sessionConn),
	}

	r := chi.NewRouter()
	r.Get("/cost_claimer/users/", s.handleUsers)
	r.Get("/cost_claimer/valid_receipts/", s.handleValidReceipts)
	r.Get("/ws/cost_claimer/group_view/", s.handleGroupView)
	s.httpSrv = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.DisconnectAll()
	s.httpSrv.Close()
}

func (s *Server) BaseURL() string { return s.httpSrv.URL }

func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http") + "/ws/cost_claimer/group_view/"
}

// AddAccount registers a user with a bcrypt-hashed password and adds them to
// the roster.
func (s *Server) AddAccount(user protocol.User, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = &account{user: user, hash: hash}
	s.roster = append(s.roster, user)
	if user.UserID >= s.nextUserID {
		s.nextUserID = user.UserID + 1
	}
	return nil
}

func (s *Server) SetReceipts(dates ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = make(map[string]bool, len(dates))
	for _, date := range dates {
		s.receipts[date] = true
	}
}

// SetLobbyState configures the snapshot returned by join_lobby.
func (s *Server) SetLobbyState(state protocol.LobbyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbyState = state
}

// Push broadcasts an event frame to every connected session.
func (s *Server) Push(event any) {
	s.mu.Lock()
	conns := make([]*sessionConn, 0, len(s.sessions))
	for _, sc := range s.sessions {
		conns = append(conns, sc)
	}
	s.mu.Unlock()
	for _, sc := range conns {
		_ = sc.write(context.Background(), event)
	}
}

// Received returns every action frame the server has read, in order.
func (s *Server) Received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedActions returns just the action names, in order.
func (s *Server) ReceivedActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.received))
	for _, msg := range s.received {
		if name, ok := msg["action"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// DisconnectAll closes every session from the server side.
func (s *Server) DisconnectAll() {
	s.mu.Lock()
	conns := make([]*sessionConn, 0, len(s.sessions))
	for id, sc := range s.sessions {
		conns = append(conns, sc)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, sc := range conns {
		_ = sc.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	users := make([]protocol.User, len(s.roster))
	copy(users, s.roster)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(users)
}

func (s *Server) handleValidReceipts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	dates := make([]string, 0, len(s.receipts))
	for date := range s.receipts {
		dates = append(dates, date)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dates)
}

func (s *Server) handleGroupView(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	sc := &sessionConn{id: uuid.NewString(), conn: conn}

	s.mu.Lock()
	s.sessions[sc.id] = sc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sc.id)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()
		s.handleAction(ctx, sc, msg)
	}
}

func (s *Server) handleAction(ctx context.Context, sc *sessionConn, msg map[string]any) {
	action, _ := msg["action"].(string)
	switch action {
	case "login":
		s.handleLogin(ctx, sc, msg)
	case "create_account":
		s.handleCreateAccount(ctx, sc, msg)
	case "logout":
		_ = sc.write(ctx, map[string]any{
			"type": "user_change", "valid": false, "message": "Successfully Logged Out",
		})
	case "join_lobby":
		s.handleJoinLobby(ctx, sc, msg)
	default:
		// Recorded only; tests drive further traffic with Push.
	}
}

func (s *Server) handleLogin(ctx context.Context, sc *sessionConn, msg map[string]any) {
	username, _ := msg["username"].(string)
	password, _ := msg["password"].(string)

	s.mu.Lock()
	acct := s.accounts[username]
	s.mu.Unlock()

	if acct == nil || bcrypt.CompareHashAndPassword(acct.hash, []byte(password)) != nil {
		_ = sc.write(ctx, map[string]any{"type": "account_error", "message": "Invalid Login"})
		return
	}
	_ = sc.write(ctx, map[string]any{
		"type": "user_change", "valid": true, "user": acct.user, "message": "Successfully Logged In",
	})
}

func (s *Server) handleCreateAccount(ctx context.Context, sc *sessionConn, msg map[string]any) {
	name, _ := msg["name"].(string)
	username, _ := msg["username"].(string)
	password, _ := msg["password"].(string)

	s.mu.Lock()
	if _, taken := s.accounts[username]; taken {
		s.mu.Unlock()
		_ = sc.write(ctx, map[string]any{"type": "account_error", "message": "Username Already Taken"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		s.mu.Unlock()
		return
	}
	user := protocol.User{UserID: s.nextUserID, Name: name}
	s.nextUserID++
	s.accounts[username] = &account{user: user, hash: hash}
	s.roster = append(s.roster, user)
	s.mu.Unlock()

	_ = sc.write(ctx, map[string]any{
		"type": "user_change", "valid": true, "user": user, "message": "Account Created",
	})
}

func (s *Server) handleJoinLobby(ctx context.Context, sc *sessionConn, msg map[string]any) {
	date, _ := msg["receipt_date"].(string)

	s.mu.Lock()
	known := s.receipts[date]
	state := s.lobbyState
	s.mu.Unlock()

	if !known {
		_ = sc.write(ctx, map[string]any{"type": "lobby_error", "message": "Receipt Date Not Found"})
		return
	}
	_ = sc.write(ctx, map[string]any{"type": "lobby_init", "lobby_state": state})
}
