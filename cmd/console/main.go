package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/account"
	"github.com/costclaim/groupview/internal/balance"
	"github.com/costclaim/groupview/internal/conn"
	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/lobby"
	"github.com/costclaim/groupview/internal/notice"
	"github.com/costclaim/groupview/internal/payment"
	"github.com/costclaim/groupview/internal/rest"
	"github.com/costclaim/groupview/internal/roster"
	"github.com/costclaim/groupview/internal/session"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type app struct {
	logger *zap.Logger

	dispatcher *dispatch.Dispatcher
	manager    *conn.Manager
	session    *session.Context
	roster     *roster.Store
	accounts   *account.Manager
	machine    *lobby.Machine
	balances   *balance.Viewer
	payments   *payment.Recorder

	balancesAttached bool
}

func newApp(logger *zap.Logger) *app {
	base := env("GROUPVIEW_HTTP_URL", "http://localhost:8000")
	wsURL := env("GROUPVIEW_WS_URL", "ws://localhost:8000/ws/cost_claimer/group_view/")

	d := dispatch.NewDispatcher(logger)
	store := &roster.Store{}
	restClient := rest.NewClient(base, logger)
	warnings := &notice.Board{}

	manager := conn.NewManager(conn.Config{
		URL:        wsURL,
		Dispatcher: d,
		Rest:       restClient,
		Roster:     store,
		Warnings:   warnings,
		Logger:     logger,
	})

	a := &app{
		logger:     logger,
		dispatcher: d,
		manager:    manager,
		session:    session.Attach(d, logger),
		roster:     store,
	}
	a.accounts = account.NewManager(manager, warnings, logger)
	a.accounts.Attach(d)
	a.machine = lobby.NewMachine(lobby.Config{
		Sender:  manager,
		Session: a.session,
		Roster:  store,
		Rest:    restClient,
		Notices: &notice.Board{},
		Logger:  logger,
	})
	a.machine.Attach(d)
	a.balances = balance.NewViewer(manager, store, logger)
	a.payments = payment.NewRecorder(manager, warnings, logger)
	a.payments.Attach(d)
	return a
}

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	a := newApp(logger)
	fmt.Println("group view console. Type help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if a.run(strings.Fields(scanner.Text())) {
			break
		}
	}

	a.machine.Close(a.dispatcher)
	a.accounts.Close(a.dispatcher)
	if a.balancesAttached {
		a.balances.Close(a.dispatcher)
	}
	a.payments.Close(a.dispatcher)
	a.session.Close(a.dispatcher)
	a.manager.Close()
}

// run executes one command line, returning true on quit.
func (a *app) run(args []string) bool {
	if len(args) == 0 {
		return false
	}
	cmd, args := args[0], args[1:]

	report := func(err error) {
		if err != nil {
			fmt.Println("error:", err)
		}
	}

	switch cmd {
	case "help":
		printHelp()
	case "quit", "exit":
		return true

	case "connect":
		report(a.manager.Connect(context.Background()))
	case "close":
		a.manager.Close()
	case "status":
		fmt.Println(a.manager.Status())
	case "log":
		for _, line := range a.manager.Log() {
			fmt.Println(line)
		}

	case "login":
		if len(args) != 2 {
			fmt.Println("usage: login <username> <password>")
			return false
		}
		report(a.accounts.Login(args[0], args[1]))
	case "create":
		if len(args) != 3 {
			fmt.Println("usage: create <name> <username> <password>")
			return false
		}
		report(a.accounts.CreateAccount(args[0], args[1], args[2]))
	case "passwd":
		if len(args) != 2 {
			fmt.Println("usage: passwd <password> <new-password>")
			return false
		}
		report(a.accounts.ChangePassword(args[0], args[1]))
	case "rename":
		if len(args) != 2 {
			fmt.Println("usage: rename <password> <new-username>")
			return false
		}
		report(a.accounts.ChangeUsername(args[0], args[1]))
	case "logout":
		report(a.accounts.Logout())
	case "whoami":
		if u, ok := a.session.User(); ok {
			fmt.Printf("%s (user %d)\n", u.Name, u.UserID)
		} else {
			fmt.Println("not logged in")
		}

	case "join":
		if len(args) != 1 {
			fmt.Println("usage: join <receipt-date>")
			return false
		}
		report(a.machine.JoinLobby(args[0]))
	case "ready":
		report(a.machine.ChangeStatus(true))
	case "unready":
		report(a.machine.ChangeStatus(false))
	case "claim":
		report(a.machine.ClaimItem())
	case "leave":
		report(a.machine.LeaveLobby())
	case "back":
		report(a.machine.BackToJoin())
	case "lobby":
		a.printLobby()

	case "balances":
		if !a.balancesAttached {
			// Attach lazily; attaching issues the first request itself.
			a.balances.Attach(a.dispatcher)
			a.balancesAttached = true
			return false
		}
		report(a.balances.Refresh())
	case "sheet":
		a.printBalances()
	case "pay":
		if len(args) != 2 {
			fmt.Println("usage: pay <user-id> <amount>")
			return false
		}
		userID, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("user-id must be a number")
			return false
		}
		report(a.payments.Record(userID, args[1]))

	default:
		fmt.Println("unknown command, type help")
	}
	return false
}

func (a *app) printLobby() {
	v := a.machine.View()
	fmt.Println("phase:", v.Phase)
	if v.Notice.Kind != notice.KindNone {
		fmt.Println("notice:", v.Notice.Text)
	}

	switch v.Phase {
	case lobby.PhaseReady, lobby.PhaseItemReview:
		fmt.Println("online:", a.names(v.OnlineUsers))
		fmt.Println("ready: ", a.names(v.ActiveUsers))
		if v.Time != nil {
			fmt.Printf("next item in %ds\n", *v.Time)
		}
		if v.Item != nil {
			fmt.Printf("item: %s x%d @ %s (taxed: %s) = %s\n",
				v.Item.Name, v.Item.Count, v.Item.Price, v.Item.TaxedLabel(), v.Item.TotalPrice())
		}
		if v.ClaimerLabel != "" {
			fmt.Println(v.ClaimerLabel + " claiming this item")
		}
	case lobby.PhaseFinished:
		if v.Settlement == nil {
			return
		}
		self, _ := a.session.User()
		sv := v.Settlement.Summarize(a.roster.All(), self.UserID)
		fmt.Println("payer:", sv.PayerName)
		if sv.YourShare != "" {
			fmt.Println("you owe:", sv.YourShare)
		}
		for _, line := range sv.OtherShares {
			fmt.Printf("%s owes %s\n", line.Name, line.Amount)
		}
	}
}

func (a *app) printBalances() {
	v := a.balances.View()
	if v.Settled {
		fmt.Println("all settled up")
		return
	}
	for _, line := range v.AmountsDue {
		fmt.Printf("%s owes you %s\n", line.Name, line.Amount)
	}
	for _, line := range v.AmountsOwed {
		fmt.Printf("you owe %s %s\n", line.Name, line.Amount)
	}
}

func (a *app) names(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := a.roster.Name(id); ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, strconv.Itoa(id))
		}
	}
	return strings.Join(parts, ", ")
}

func printHelp() {
	fmt.Print(`connection:  connect | close | status | log
account:     login <user> <pass> | create <name> <user> <pass> | passwd <pass> <new>
             rename <pass> <new-user> | logout | whoami
lobby:       join <date> | ready | unready | claim | leave | back | lobby
balances:    balances (fetch) | sheet (print) | pay <user-id> <amount>
other:       help | quit
`)
}
