package briefing

import (
	"fmt"
	"strings"
)

// Greeting selects how the agent opens a leg
type Greeting int

const (
	// GreetingFirst is the user's first call: full self-introduction
	GreetingFirst Greeting = iota
	// GreetingReturning is a later user-initiated call: short greeting, recap, follow-up question
	GreetingReturning
	// GreetingHandover is a transparent leg rotation: resume without greeting
	GreetingHandover
)

func (g Greeting) String() string {
	switch g {
	case GreetingFirst:
		return "first"
	case GreetingReturning:
		return "returning"
	case GreetingHandover:
		return "handover"
	default:
		return "unknown"
	}
}

// SelectGreeting picks the greeting from the number of user-initiated calls
// so far. Handovers never depend on the count.
func SelectGreeting(callCount int, handover bool) Greeting {
	if handover {
		return GreetingHandover
	}
	if callCount > 1 {
		return GreetingReturning
	}
	return GreetingFirst
}

// Persona is the agent identity prepended to every briefing
type Persona struct {
	AgentName  string
	Agency     string
	BasePrompt string
}

// Request is everything that shapes one leg's briefing
type Request struct {
	Greeting Greeting
	Context  *ConversationContext
	// History is the formatted transcript carried into a handover leg
	History string
}

// Build renders the system instruction for a leg
func Build(p Persona, req Request) string {
	var b strings.Builder

	if base := strings.TrimSpace(p.BasePrompt); base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "You are %s from %s. Your voice is gentle, calm and professional.", p.AgentName, p.Agency)

	if req.Context != nil {
		b.WriteString("\n\n")
		b.WriteString(req.Context.caseData())
		if origin := strings.TrimSpace(req.Context.CallOrigin); origin != "" {
			fmt.Fprintf(&b, "\nThe user started this call from the %s page.", origin)
		}
	}

	name := req.Context.Name()
	switch req.Greeting {
	case GreetingHandover:
		b.WriteString("\n\n[TECHNICAL HISTORY - IMMEDIATE RESUME]\n")
		b.WriteString("The audio system restarted. Continue the sentence or conversation EXACTLY where it stopped. Do not greet the user again.")
		if history := strings.TrimSpace(req.History); history != "" {
			b.WriteString("\n\nRecent history:\n")
			b.WriteString(req.History)
		}
	case GreetingReturning:
		fmt.Fprintf(&b, "\n\n[SCENARIO: THE CLIENT IS CALLING BACK]\n"+
			"%s is calling you back after a previous conversation ended.\n"+
			"1. Do not introduce yourself in full, you already did.\n"+
			"2. Say instead: \"Hello again %s. I see you are calling us back.\"\n"+
			"3. Give a VERY SHORT status in one sentence: \"We were on your file %s.\"\n"+
			"4. KEY QUESTION: ask whether they completed the action they planned, for example sending the documents or the payment.\n"+
			"5. Be helpful and warm.",
			name, name, Recap(req.Context))
	default:
		fmt.Fprintf(&b, "\n\n[SCENARIO: FIRST CALL]\n"+
			"Welcome %s warmly. Introduce yourself briefly. Guide them through their ongoing audit.", name)
	}

	return b.String()
}
