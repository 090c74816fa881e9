package conn_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costclaim/groupview/internal/account"
	"github.com/costclaim/groupview/internal/conn"
	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/lobby"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/protocol"
	"github.com/costclaim/groupview/internal/rest"
	"github.com/costclaim/groupview/internal/roster"
	"github.com/costclaim/groupview/internal/session"
	"github.com/costclaim/groupview/internal/srvtest"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type client struct {
	dispatcher *dispatch.Dispatcher
	manager    *conn.Manager
	session    *session.Context
	accounts   *account.Manager
	machine    *lobby.Machine
	roster     *roster.Store
}

func newClient(t *testing.T, srv *srvtest.Server) *client {
	t.Helper()

	d := dispatch.NewDispatcher(nil)
	store := &roster.Store{}
	restClient := rest.NewClient(srv.BaseURL(), nil)
	manager := conn.NewManager(conn.Config{
		URL:        srv.WSURL(),
		Dispatcher: d,
		Rest:       restClient,
		Roster:     store,
		Warnings:   &notice.Board{},
	})

	sess := session.Attach(d, nil)
	accounts := account.NewManager(manager, &notice.Board{}, nil)
	accounts.Attach(d)
	machine := lobby.NewMachine(lobby.Config{
		Sender:  manager,
		Session: sess,
		Roster:  store,
		Rest:    restClient,
		Notices: &notice.Board{},
	})
	machine.Attach(d)

	t.Cleanup(func() {
		machine.Close(d)
		accounts.Close(d)
		sess.Close(d)
		manager.Close()
	})
	return &client{
		dispatcher: d,
		manager:    manager,
		session:    sess,
		accounts:   accounts,
		machine:    machine,
		roster:     store,
	}
}

func TestFullLobbyFlowOverWebSocket(t *testing.T) {
	srv := srvtest.New()
	defer srv.Close()

	require.NoError(t, srv.AddAccount(protocol.User{UserID: 1, Name: "Alice"}, "alice", "hunter2"))
	require.NoError(t, srv.AddAccount(protocol.User{UserID: 2, Name: "Bob"}, "bob", "secret"))
	srv.SetReceipts("2024-05-01")
	srv.SetLobbyState(protocol.LobbyState{AllUsers: []int{1, 2}, ActiveUsers: []int{}})

	c := newClient(t, srv)
	require.NoError(t, c.manager.Connect(context.Background()))
	require.Equal(t, conn.StatusOpen, c.manager.Status())

	// Roster and valid receipt dates arrive from the side reads.
	require.Eventually(t, func() bool { return len(c.roster.All()) == 2 },
		waitFor, tick)

	// Bad credentials surface as an account error, not a session.
	require.NoError(t, c.accounts.Login("alice", "wrong"))
	require.Eventually(t, func() bool {
		cur := c.accounts.Notice()
		return cur.Kind == notice.KindError && cur.Text == "Invalid Login"
	}, waitFor, tick)

	require.NoError(t, c.accounts.Login("alice", "hunter2"))
	require.Eventually(t, func() bool {
		u, ok := c.session.User()
		return ok && u.UserID == 1
	}, waitFor, tick)

	// Join the lobby; the initial snapshot has no item, so phase is Ready.
	require.Eventually(t, func() bool {
		return c.machine.JoinLobby("2024-05-01") == nil
	}, waitFor, tick)
	require.Eventually(t, func() bool { return c.machine.Phase() == lobby.PhaseReady },
		waitFor, tick)

	// Readying up is optimistic and reaches the wire once.
	require.NoError(t, c.machine.ChangeStatus(true))
	require.Eventually(t, func() bool {
		for _, name := range srv.ReceivedActions() {
			if name == "change_status" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	// Server pushes the first item.
	srv.Push(map[string]any{
		"type":         "lobby_item_change",
		"item":         protocol.Item{ID: 7, Name: "Milk", Count: 2, Price: "10.00", Taxed: true},
		"active_users": []int{1, 2},
	})
	require.Eventually(t, func() bool { return c.machine.Phase() == lobby.PhaseItemReview },
		waitFor, tick)
	view := c.machine.View()
	require.NotNil(t, view.Item)
	assert.Equal(t, "21.60", view.Item.TotalPrice())

	// Claim, then settle.
	require.NoError(t, c.machine.ClaimItem())
	assert.Equal(t, "You are", c.machine.View().ClaimerLabel)

	srv.Push(map[string]any{
		"type": "lobby_finished", "payer": 2,
		"shares": map[string]string{"1": "5.00", "2": "3.00"},
	})
	require.Eventually(t, func() bool { return c.machine.Phase() == lobby.PhaseFinished },
		waitFor, tick)

	sv := c.machine.View().Settlement.Summarize(c.roster.All(), 1)
	assert.Equal(t, "Bob", sv.PayerName)
	assert.Equal(t, "5.00", sv.YourShare)
	assert.Empty(t, sv.OtherShares)
}

func TestServerDisconnectClearsSessionAndLobby(t *testing.T) {
	srv := srvtest.New()
	defer srv.Close()

	require.NoError(t, srv.AddAccount(protocol.User{UserID: 1, Name: "Alice"}, "alice", "hunter2"))
	srv.SetReceipts("2024-05-01")
	srv.SetLobbyState(protocol.LobbyState{AllUsers: []int{1}, ActiveUsers: []int{}})

	c := newClient(t, srv)
	require.NoError(t, c.manager.Connect(context.Background()))

	require.NoError(t, c.accounts.Login("alice", "hunter2"))
	require.Eventually(t, func() bool { _, ok := c.session.User(); return ok },
		waitFor, tick)
	require.Eventually(t, func() bool {
		return c.machine.JoinLobby("2024-05-01") == nil
	}, waitFor, tick)
	require.Eventually(t, func() bool { return c.machine.Phase() == lobby.PhaseReady },
		waitFor, tick)

	srv.DisconnectAll()

	require.Eventually(t, func() bool { return c.manager.Status() == conn.StatusClosed },
		waitFor, tick)
	require.Eventually(t, func() bool { _, ok := c.session.User(); return !ok },
		waitFor, tick)
	require.Eventually(t, func() bool { return c.machine.Phase() == lobby.PhaseJoin },
		waitFor, tick)
	require.Eventually(t, func() bool {
		cur := c.accounts.Notice()
		return cur.Kind == notice.KindError && cur.Text == "Connection Lost"
	}, waitFor, tick)
}

func TestCredentialsNeverAppearInDiagnosticLog(t *testing.T) {
	srv := srvtest.New()
	defer srv.Close()
	require.NoError(t, srv.AddAccount(protocol.User{UserID: 1, Name: "Alice"}, "alice", "hunter2"))

	c := newClient(t, srv)
	require.NoError(t, c.manager.Connect(context.Background()))
	require.NoError(t, c.accounts.Login("alice", "hunter2"))

	// The wire got the real credentials, proven by the server accepting them.
	require.Eventually(t, func() bool {
		u, ok := c.session.User()
		return ok && u.Name == "Alice"
	}, waitFor, tick)

	// The diagnostic log never did.
	for _, line := range c.manager.Log() {
		if strings.HasPrefix(line, "[Sent] ") {
			assert.NotContains(t, line, "hunter2")
			assert.NotContains(t, line, "alice")
		}
	}
}
