package protocol

// ActionType tags every client-sent frame.
type ActionType string

const (
	ActLogin          ActionType = "login"
	ActCreateAccount  ActionType = "create_account"
	ActChangeUsername ActionType = "change_username"
	ActChangePassword ActionType = "change_password"
	ActLogout         ActionType = "logout"
	ActJoinLobby      ActionType = "join_lobby"
	ActLeaveLobby     ActionType = "leave_lobby"
	ActChangeStatus   ActionType = "change_status"
	ActClaimItem      ActionType = "claim_item"
	ActRecordPayment  ActionType = "record_payment"
	ActViewBalances   ActionType = "view_balances"
)

// SensitiveFields are redacted from diagnostic logs. The wire payload is
// never altered.
var SensitiveFields = []string{"username", "new_username", "password", "new_password"}

type Login struct {
	Action   ActionType `json:"action"`
	Username string     `json:"username"`
	Password string     `json:"password"`
}

type CreateAccount struct {
	Action   ActionType `json:"action"`
	Name     string     `json:"name"`
	Username string     `json:"username"`
	Password string     `json:"password"`
}

type ChangeUsername struct {
	Action      ActionType `json:"action"`
	Password    string     `json:"password"`
	NewUsername string     `json:"new_username"`
}

type ChangePassword struct {
	Action      ActionType `json:"action"`
	Password    string     `json:"password"`
	NewPassword string     `json:"new_password"`
}

type Logout struct {
	Action ActionType `json:"action"`
}

type JoinLobby struct {
	Action      ActionType `json:"action"`
	ReceiptDate string     `json:"receipt_date"`
}

type LeaveLobby struct {
	Action ActionType `json:"action"`
}

// ChangeStatus toggles readiness. NewStatus is the strings "true" or "false"
// on the wire.
type ChangeStatus struct {
	Action    ActionType `json:"action"`
	NewStatus string     `json:"new_status"`
}

type ClaimItem struct {
	Action ActionType `json:"action"`
	ItemID int        `json:"item_id"`
}

type RecordPayment struct {
	Action ActionType `json:"action"`
	UserID int        `json:"user_id"`
	Amount string     `json:"amount"`
}

type ViewBalances struct {
	Action ActionType `json:"action"`
}
