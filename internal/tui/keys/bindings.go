package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings per page, in registration order so that hints
// render the same way every time.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(action *Action) {
	r.global = append(r.global, action)
}

// AddPage registers a binding active on one page. Page bindings win over
// global ones for the same key.
func (r *Registry) AddPage(page string, action *Action) {
	r.pages[page] = append(r.pages[page], action)
}

// Hints returns the visible descriptions for a page, page bindings first.
func (r *Registry) Hints(page string) []string {
	var hints []string
	for _, a := range r.pages[page] {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	for _, a := range r.global {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the first matching action for the
// page. Returns true if a handler ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, a := range r.pages[page] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
