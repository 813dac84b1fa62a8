package status

import (
	"testing"

	"github.com/wtfpos/posd/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Loading},
		{Booting, Error},
		{AuthRequired, Loading},
		{Loading, Online},
		{Loading, Offline},
		{Online, Offline},
		{Offline, Online},
		{Online, AuthRequired},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			// Walk to the "from" state.
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(BOOTING -> ONLINE) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("terminal.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.TerminalStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.TerminalStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
	}
}

// TestAuthRequiredCannotGoOnline verifies a terminal without a token must
// load the catalog before it reports ONLINE.
func TestAuthRequiredCannotGoOnline(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(AuthRequired)

	if err := m.Transition(Online); err == nil {
		t.Fatal("Transition(AUTH_REQUIRED -> ONLINE) should fail; must go through LOADING first")
	}
	if m.Current() != AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED (should not have changed)", m.Current())
	}
}

// TestFirstRunLifecycle: BOOTING → AUTH_REQUIRED → LOADING → OFFLINE → ONLINE
func TestFirstRunLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{AuthRequired, Loading, Offline, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Online {
		t.Errorf("final state = %s, want ONLINE", m.Current())
	}
}

func TestSettle(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("terminal.", 10)
	defer unsub()

	m := NewMachine(b)
	if m.Settle(true) {
		t.Error("Settle from BOOTING reported a change")
	}
	if m.Current() != Booting {
		t.Fatalf("Settle from BOOTING changed state to %s", m.Current())
	}

	walkTo(t, m, Loading)
	if !m.Settle(false) || m.Current() != Offline {
		t.Errorf("state = %s, want OFFLINE", m.Current())
	}
	if m.Settle(false) {
		t.Error("repeated Settle(false) reported a change")
	}
	m.Settle(true)
	if m.Current() != Online {
		t.Errorf("state = %s, want ONLINE", m.Current())
	}

	// BOOTING->LOADING, LOADING->OFFLINE, OFFLINE->ONLINE; the repeated
	// Settle(false) publishes nothing.
	if n := len(ch); n != 3 {
		t.Errorf("got %d status events, want 3", n)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Loading:      {Loading},
		Online:       {Loading, Online},
		Offline:      {Loading, Offline},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
