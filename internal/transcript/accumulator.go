// Package transcript assembles incremental speech-to-text fragments from both
// sides of a call into an ordered list of finalized utterances.
package transcript

import (
	"strings"
	"sync"
)

// Role identifies the speaking party
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Label returns the name used when rendering the transcript as text
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAgent:
		return "Agent"
	}
	return string(r)
}

// Entry is one finalized utterance
type Entry struct {
	Role Role
	Text string
}

// Update is emitted for every change to a role's text. Non-final updates carry
// the whole partial so far, not just the new fragment.
type Update struct {
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Accumulator holds finalized entries plus one open partial per role
type Accumulator struct {
	mu      sync.Mutex
	entries []Entry
	user    strings.Builder
	agent   strings.Builder
}

// New creates an empty accumulator
func New() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) partial(role Role) *strings.Builder {
	if role == RoleUser {
		return &a.user
	}
	return &a.agent
}

// Append adds a fragment to role's partial and returns the live caption update
func (a *Accumulator) Append(role Role, fragment string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.partial(role)
	b.WriteString(fragment)
	return Update{Role: role, Text: b.String()}
}

// CompleteTurn finalizes the user partial and then the agent partial. Empty
// or whitespace-only partials are cleared without producing an entry.
func (a *Accumulator) CompleteTurn() []Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	var updates []Update
	for _, role := range []Role{RoleUser, RoleAgent} {
		if u, ok := a.finalize(role); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

// Flush finalizes whatever is still open; used when a call ends
func (a *Accumulator) Flush() []Update {
	return a.CompleteTurn()
}

func (a *Accumulator) finalize(role Role) (Update, bool) {
	b := a.partial(role)
	text := strings.TrimSpace(b.String())
	b.Reset()
	if text == "" {
		return Update{}, false
	}
	a.entries = append(a.entries, Entry{Role: role, Text: text})
	return Update{Role: role, Text: text, IsFinal: true}, true
}

// Discard drops role's partial without finalizing it and reports whether
// there was anything to drop
func (a *Accumulator) Discard(role Role) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.partial(role)
	had := b.Len() > 0
	b.Reset()
	return had
}

// Partial returns role's open text
func (a *Accumulator) Partial(role Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial(role).String()
}

// Entries returns a copy of the finalized entries
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries...)
}

// Format renders every finalized entry followed by any open partials, user
// first, as "[Label] : text" blocks separated by blank lines. ok is false when
// there is nothing to render.
func (a *Accumulator) Format() (text string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lines := make([]string, 0, len(a.entries)+2)
	for _, e := range a.entries {
		lines = append(lines, render(e.Role, e.Text))
	}
	for _, role := range []Role{RoleUser, RoleAgent} {
		if p := strings.TrimSpace(a.partial(role).String()); p != "" {
			lines = append(lines, render(role, p))
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n\n"), true
}

func render(role Role, text string) string {
	return "[" + role.Label() + "] : " + text
}

// Reset forgets everything
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = nil
	a.user.Reset()
	a.agent.Reset()
}
