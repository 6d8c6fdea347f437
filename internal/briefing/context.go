// Package briefing builds the instruction payload sent when a leg opens: case
// context, greeting policy and the navigation capability.
package briefing

import (
	"fmt"
	"strings"
)

const (
	defaultCandidateName = "Candidate"
	defaultVisaType      = "Undefined"
)

// ConversationContext is the case data supplied by the host when a call
// starts. It is treated as read-only once handed to the agent.
type ConversationContext struct {
	CandidateName      string `json:"candidate_name,omitempty"`
	VisaType           string `json:"visa_type,omitempty"`
	Score              int    `json:"score,omitempty"`
	ProjectDescription string `json:"project_description,omitempty"`
	Nationality        string `json:"nationality,omitempty"`
	Profession         string `json:"profession,omitempty"`
	// CallOrigin is the host page the call was started from, if known
	CallOrigin string `json:"call_origin,omitempty"`
}

// Name returns the candidate name or the generic fallback
func (c *ConversationContext) Name() string {
	if c == nil || strings.TrimSpace(c.CandidateName) == "" {
		return defaultCandidateName
	}
	return c.CandidateName
}

// Visa returns the visa type or "Undefined"
func (c *ConversationContext) Visa() string {
	if c == nil || strings.TrimSpace(c.VisaType) == "" {
		return defaultVisaType
	}
	return c.VisaType
}

// EligibilityScore returns the score, 0 when there is no context
func (c *ConversationContext) EligibilityScore() int {
	if c == nil {
		return 0
	}
	return c.Score
}

// Recap is the one-line case summary used on returning calls, e.g. "DTV (Score: 85%)"
func Recap(c *ConversationContext) string {
	return fmt.Sprintf("%s (Score: %d%%)", c.Visa(), c.EligibilityScore())
}

// caseData renders the structured fields for the instruction
func (c *ConversationContext) caseData() string {
	return fmt.Sprintf("CASE DATA: Project=%q, Nationality=%s, Profession=%s, Visa=%s, Score=%d%%.",
		c.ProjectDescription, orUnknown(c.Nationality), orUnknown(c.Profession), c.Visa(), c.EligibilityScore())
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
