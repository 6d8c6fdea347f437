package briefing

import (
	"fmt"

	"github.com/lexiqai/live-concierge/internal/gemini"
)

// NavigateFunction is the tool the agent calls to switch the host page
const NavigateFunction = "navigateToPage"

// Page identifies a host application screen
type Page string

const (
	PageDashboard Page = "DASHBOARD"
	PageDocuments Page = "DOCUMENTS"
	PageChat      Page = "CHAT"
	PagePayment   Page = "PAYMENT"
	PageSettings  Page = "SETTINGS"
	PagePreAudit  Page = "PRE_AUDIT"
)

// Pages lists every navigable page in declaration order
var Pages = []Page{PageDashboard, PageDocuments, PageChat, PagePayment, PageSettings, PagePreAudit}

// ParsePage validates a page identifier sent by the agent
func ParsePage(s string) (Page, bool) {
	for _, p := range Pages {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// NavigationResult is the tool response confirming a page switch
func NavigationResult(p Page) map[string]any {
	return map[string]any{"result": fmt.Sprintf("User is now on %s page.", p)}
}

// NavigationTool declares the page switch capability
func NavigationTool() gemini.FunctionDeclaration {
	enum := make([]string, len(Pages))
	for i, p := range Pages {
		enum[i] = string(p)
	}
	return gemini.FunctionDeclaration{
		Name:        NavigateFunction,
		Description: "Navigates the user application to a specific page or section.",
		Parameters: &gemini.Schema{
			Type: "OBJECT",
			Properties: map[string]*gemini.Schema{
				"page": {
					Type:        "STRING",
					Description: "The destination page. Values: DASHBOARD, DOCUMENTS, CHAT, PAYMENT, SETTINGS, PRE_AUDIT.",
					Enum:        enum,
				},
			},
			Required: []string{"page"},
		},
	}
}
