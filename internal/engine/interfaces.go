package engine

import "context"

// ModelClient abstracts LLM calls.
type ModelClient interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request is a single non-streaming generation call.
type Request struct {
	Model  string
	Prompt string
	System string
	// Format constrains the output; "json" asks the model for a JSON object.
	Format string
}

// Topic is the gatekeeper's classification of a transcript sample.
type Topic string

const (
	TopicSoftware Topic = "SOFTWARE"
	TopicOther    Topic = "OTHER"
)

// RequirementsExtraction is the structured document produced in json mode.
type RequirementsExtraction struct {
	ProjectSummary ProjectSummary `json:"project_summary"`
	Participants   Participants   `json:"participants"`
	ActionItems    []ActionItem   `json:"action_items"`
}

// ProjectSummary names the software and the purpose of the meeting.
type ProjectSummary struct {
	SoftwareName      string `json:"software_name"`
	MainGoalOfMeeting string `json:"main_goal_of_meeting"`
}

// Participants records who spoke for each side.
type Participants struct {
	Client    string `json:"client"`
	Developer string `json:"developer"`
}

// ActionItem is one requested change.
type ActionItem struct {
	Type        string  `json:"type"` // NEW_FEATURE, BUG_FIX, CHANGE_REQUEST, QUESTION
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Context     *string `json:"context"`
	Priority    *string `json:"priority"` // HIGH, MEDIUM, LOW or null
}
