package dispatch

import (
	"testing"

	"github.com/costclaim/groupview/internal/protocol"
)

const lobbyErrorFrame = `{"type":"lobby_error","message":"boom"}`

func TestNotify_FiresOncePerNetRegistration(t *testing.T) {
	d := NewDispatcher(nil)

	var fired int
	fn := func(raw []byte) { fired++ }

	s1 := d.Subscribe(protocol.EvtLobbyError, fn)
	s2 := d.Subscribe(protocol.EvtLobbyError, fn)
	d.Unsubscribe(s1)
	_ = s2

	d.Notify([]byte(lobbyErrorFrame))
	if fired != 1 {
		t.Fatalf("want 1 invocation for 1 net registration, got %d", fired)
	}

	d.Subscribe(protocol.EvtLobbyError, fn)
	fired = 0
	d.Notify([]byte(lobbyErrorFrame))
	if fired != 2 {
		t.Fatalf("want 2 invocations for 2 net registrations, got %d", fired)
	}
}

func TestNotify_RegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []string
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { order = append(order, "first") })
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { order = append(order, "second") })
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { order = append(order, "third") })

	d.Notify([]byte(lobbyErrorFrame))

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("want %d invocations, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("invocation order %v, want %v", order, want)
		}
	}
}

func TestNotify_UnsubscribeSelfDuringDispatch(t *testing.T) {
	d := NewDispatcher(nil)

	var firstFired, secondFired, thirdFired int
	var s1 *Subscription
	s1 = d.Subscribe(protocol.EvtLobbyError, func([]byte) {
		firstFired++
		d.Unsubscribe(s1)
	})
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { secondFired++ })
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { thirdFired++ })

	d.Notify([]byte(lobbyErrorFrame))
	if firstFired != 1 || secondFired != 1 || thirdFired != 1 {
		t.Fatalf("first dispatch: got %d/%d/%d, want 1/1/1", firstFired, secondFired, thirdFired)
	}

	d.Notify([]byte(lobbyErrorFrame))
	if firstFired != 1 {
		t.Fatalf("unsubscribed handler fired again: %d", firstFired)
	}
	if secondFired != 2 || thirdFired != 2 {
		t.Fatalf("second dispatch: got %d/%d, want 2/2", secondFired, thirdFired)
	}
}

func TestNotify_SameFunctionOnMultipleTypes(t *testing.T) {
	d := NewDispatcher(nil)

	var fired int
	fn := func([]byte) { fired++ }
	lobbySub := d.Subscribe(protocol.EvtLobbyError, fn)
	d.Subscribe(protocol.EvtAccountError, fn)

	d.Notify([]byte(lobbyErrorFrame))
	d.Notify([]byte(`{"type":"account_error","message":"nope"}`))
	if fired != 2 {
		t.Fatalf("want 2 invocations across types, got %d", fired)
	}

	// Removing one type's subscription leaves the other intact.
	d.Unsubscribe(lobbySub)
	d.Notify([]byte(lobbyErrorFrame))
	d.Notify([]byte(`{"type":"account_error","message":"nope"}`))
	if fired != 3 {
		t.Fatalf("want 3 invocations after partial unsubscribe, got %d", fired)
	}
}

func TestNotify_DropsMalformedAndUnknownFrames(t *testing.T) {
	d := NewDispatcher(nil)

	var fired int
	d.Subscribe(protocol.EvtLobbyError, func([]byte) { fired++ })

	d.Notify([]byte(`not json at all`))
	d.Notify([]byte(`{"no_type_field":true}`))
	d.Notify([]byte(`{"type":"never_heard_of_it"}`))

	if fired != 0 {
		t.Fatalf("handler fired %d times on garbage frames", fired)
	}
}
