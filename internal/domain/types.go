package domain

import "time"

// Client is the engine's view of a managed client record. The surrounding
// application owns the full record; the engine only reads and mutates the
// fields automation acts on.
type Client struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Status     string         `json:"status"`
	Stage      string         `json:"stage,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"` // custom fields
	StageSince time.Time      `json:"stage_since,omitempty"`
	LastTouch  time.Time      `json:"last_touch,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Snapshot returns the client as a plain map, the form condition trees and
// placeholder interpolation evaluate against.
func (c *Client) Snapshot() map[string]any {
	if c == nil {
		return nil
	}
	tags := make([]any, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = t
	}
	m := map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"email":       c.Email,
		"phone":       c.Phone,
		"status":      c.Status,
		"stage":       c.Stage,
		"tags":        tags,
		"owner_id":    c.OwnerID,
		"stage_since": c.StageSince.Format(time.RFC3339),
		"last_touch":  c.LastTouch.Format(time.RFC3339),
		"created_at":  c.CreatedAt.Format(time.RFC3339),
		"updated_at":  c.UpdatedAt.Format(time.RFC3339),
	}
	if len(c.Fields) > 0 {
		fields := make(map[string]any, len(c.Fields))
		for k, v := range c.Fields {
			fields[k] = v
		}
		m["fields"] = fields
	}
	return m
}

// ClientStatuses is the closed status enum for clients. update-status
// actions are validated against it.
var ClientStatuses = []string{"lead", "prospect", "active", "on-hold", "denied", "archived"}

// ValidClientStatus reports whether s is a member of the closed status enum.
func ValidClientStatus(s string) bool {
	for _, known := range ClientStatuses {
		if known == s {
			return true
		}
	}
	return false
}

// Task is a unit of follow-up work, created or mutated by task actions.
type Task struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority,omitempty"` // low | normal | high | urgent
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Document is a file requirement attached to a client.
type Document struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"client_id"`
	Category  string     `json:"category"`
	Name      string     `json:"name"`
	Received  bool       `json:"received"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Communication is a persisted outbound message record.
type Communication struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Channel    string    `json:"channel"` // email | sms
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	Status     string    `json:"status"` // sent
	TemplateID string    `json:"template_id,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// CommunicationSent is the status written for automation-produced messages.
const CommunicationSent = "sent"

// Actor is a user of the surrounding application that automation can
// resolve by id or role.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// MessageTemplate is a reusable subject/body pair with placeholders.
type MessageTemplate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// ActivityEntry is one append-only audit record of a meaningful mutation.
type ActivityEntry struct {
	ID           string         `json:"id,omitempty"`
	ClientID     string         `json:"client_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Kind         string         `json:"kind"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	DefinitionID string         `json:"definition_id,omitempty"`
}
