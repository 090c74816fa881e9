package protocol

// EventType tags every server-pushed frame. The dispatcher routes on it.
type EventType string

const (
	EvtUserChange      EventType = "user_change"
	EvtAccountError    EventType = "account_error"
	EvtPaymentSuccess  EventType = "payment_success"
	EvtPaymentError    EventType = "payment_error"
	EvtBalances        EventType = "balances"
	EvtLobbyInit       EventType = "lobby_init"
	EvtLobbyUserChange EventType = "lobby_user_change"
	EvtLobbyTimeChange EventType = "lobby_time_change"
	EvtLobbyItemChange EventType = "lobby_item_change"
	EvtLobbyItemClaim  EventType = "lobby_item_claim"
	EvtLobbyFinished   EventType = "lobby_finished"
	EvtLobbyError      EventType = "lobby_error"
	EvtInvalidAction   EventType = "invalid_action"
)

// Envelope is the minimal frame shape: only the type tag. Subscribers
// unmarshal the full frame into their own payload struct.
type Envelope struct {
	Type EventType `json:"type"`
}

// User identifies a participant. UserID is the stable identity.
type User struct {
	UserID int    `json:"user_id"`
	Name   string `json:"name"`
}

// UserChange sets or clears the authenticated user. Valid=false clears.
type UserChange struct {
	Valid   bool   `json:"valid"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// MessageEvent covers the *_error and *_success frames that carry only text.
type MessageEvent struct {
	Message string `json:"message"`
}

// Balances reports the net amounts per counterparty. A nil mapping means
// nothing is outstanding in that direction.
type Balances struct {
	NetDue  map[int]string `json:"net_due"`
	NetOwed map[int]string `json:"net_owed"`
}

// LobbyState is the full lobby snapshot sent on join.
type LobbyState struct {
	AllUsers            []int `json:"all_users"`
	ActiveUsers         []int `json:"active_users"`
	Time                *int  `json:"time"`
	Item                *Item `json:"item"`
	ExclusiveActiveUser *User `json:"exclusive_active_user"`
}

type LobbyInit struct {
	LobbyState LobbyState `json:"lobby_state"`
}

type LobbyUserChange struct {
	AllUsers    []int `json:"all_users"`
	ActiveUsers []int `json:"active_users"`
}

type LobbyTimeChange struct {
	Time *int `json:"time"`
}

type LobbyItemChange struct {
	Item        Item  `json:"item"`
	ActiveUsers []int `json:"active_users"`
}

type LobbyItemClaim struct {
	User User `json:"user"`
}

type LobbyFinished struct {
	Payer  int            `json:"payer"`
	Shares map[int]string `json:"shares"`
}
