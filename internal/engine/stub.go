package engine

import (
	"context"
	"encoding/json"
)

// StubModelClient returns canned responses (for development/testing without Ollama).
type StubModelClient struct{}

func (m *StubModelClient) Generate(_ context.Context, req Request) (string, error) {
	switch req.System {
	case classifySystemPrompt:
		return string(TopicSoftware), nil
	case analystJSONSystemPrompt:
		ctx := "Exports are done by hand every week."
		prio := "HIGH"
		b, _ := json.Marshal(RequirementsExtraction{
			ProjectSummary: ProjectSummary{
				SoftwareName:      "[Stub] Inventory dashboard",
				MainGoalOfMeeting: "Review the first demo and collect change requests.",
			},
			Participants: Participants{Client: "Client", Developer: "Developer"},
			ActionItems: []ActionItem{
				{Type: "NEW_FEATURE", Title: "CSV export", Description: "Export the stock table as CSV.", Context: &ctx, Priority: &prio},
				{Type: "BUG_FIX", Title: "Date filter", Description: "The date filter ignores the end date."},
			},
		})
		return string(b), nil
	default:
		return "# Requirements Specification: [Stub] Inventory dashboard\n\n## 1. Executive Summary\n\nStub document generated without a model.\n", nil
	}
}
