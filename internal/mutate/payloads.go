package mutate

import "fmt"

// Payload shapes for each mutation request type, generalized from
// internal/rpc/protocol.go's UpdateArgs/CreateArgs field groupings down
// to the single concern each browser-facing mutation type covers.

var allowedStatuses = map[string]bool{
	"open":        true,
	"in_progress": true,
	"closed":      true,
}

type updateStatusPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p updateStatusPayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !allowedStatuses[p.Status] {
		return fmt.Errorf("status %q is not one of open, in_progress, closed", p.Status)
	}
	return nil
}

type updatePriorityPayload struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

func (p updatePriorityPayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Priority < 0 || p.Priority > 4 {
		return fmt.Errorf("priority %d is out of range 0..4", p.Priority)
	}
	return nil
}

type updateAssigneePayload struct {
	ID       string `json:"id"`
	Assignee string `json:"assignee"`
}

func (p updateAssigneePayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// editTextPayload covers title/description/design/acceptance/notes
// edits, the free-text fields from protocol.go's UpdateArgs.
type editTextPayload struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// editFieldFlags maps each editable field to its tracker update flag.
// Most fields translate directly; acceptance is the one field whose
// wire name ("acceptance") and CLI flag ("--acceptance-criteria")
// diverge.
var editFieldFlags = map[string]string{
	"title":       "--title",
	"description": "--description",
	"design":      "--design",
	"acceptance":  "--acceptance-criteria",
	"notes":       "--notes",
}

func (p editTextPayload) validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if _, ok := editFieldFlags[p.Field]; !ok {
		return fmt.Errorf("field %q is not editable", p.Field)
	}
	return nil
}

type createIssuePayload struct {
	Title       string `json:"title"`
	Type        string `json:"type,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p createIssuePayload) validate() error {
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

type depPayload struct {
	A      string `json:"a"`
	B      string `json:"b"`
	ViewID string `json:"view_id,omitempty"`
}

func (p depPayload) validate() error {
	if p.A == "" || p.B == "" {
		return fmt.Errorf("a and b are required")
	}
	return nil
}

type labelPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

func (p labelPayload) validate() error {
	if p.ID == "" || p.Label == "" {
		return fmt.Errorf("id and label are required")
	}
	return nil
}
