package dispatch

import (
	"fmt"
)

// TemplateData is the snapshot of per-recipient values a template renders
// from. It is persisted verbatim on the delivery record for auditing.
type TemplateData struct {
	DisplayName  string `json:"display_name"`
	DaysInactive int    `json:"days_inactive"`
}

// Renderer produces the subject and body for one message. The real
// implementation lives with the platform's template system; the engine only
// depends on this contract.
type Renderer interface {
	Render(notificationType string, data TemplateData) (subject, body string, err error)
}

// PlainRenderer is the built-in fallback renderer with minimal hardcoded
// copy per notification type. Deployments plug in the platform renderer.
type PlainRenderer struct{}

func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

func (r *PlainRenderer) Render(notificationType string, data TemplateData) (string, string, error) {
	name := data.DisplayName
	if name == "" {
		name = "there"
	}

	switch notificationType {
	case "inactivity_reminder":
		subject := "We miss you! Your courses are waiting"
		body := fmt.Sprintf(
			"<p>Hi %s,</p><p>It's been %d days since your last lesson. Pick up where you left off!</p>",
			name, data.DaysInactive,
		)
		return subject, body, nil
	case "new_content":
		return "New lessons just landed",
			fmt.Sprintf("<p>Hi %s,</p><p>Fresh content was added to a course you're enrolled in.</p>", name),
			nil
	case "weekly_summary":
		return "Your week in review",
			fmt.Sprintf("<p>Hi %s,</p><p>Here's what you accomplished this week.</p>", name),
			nil
	case "welcome":
		return "Welcome aboard!",
			fmt.Sprintf("<p>Hi %s,</p><p>Glad to have you. Your first course is ready when you are.</p>", name),
			nil
	default:
		return "", "", fmt.Errorf("no template for notification type %q", notificationType)
	}
}
