package domain

import "context"

// ClientService is the entity read/write boundary the engine consumes from
// the surrounding application. Mutations follow last-write-wins; the engine
// takes no row locks.
type ClientService interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	UpdateStatus(ctx context.Context, id, status string) error
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error
	ReassignOwner(ctx context.Context, id, ownerID string) error
}

// TaskService creates and mutates follow-up tasks.
type TaskService interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	CompleteTask(ctx context.Context, id string) error
	AssignTask(ctx context.Context, id, actorID string) error
	ListOpenTasks(ctx context.Context) ([]*Task, error)
}

// DocumentService reads document requirements for condition checks and
// time-based scans.
type DocumentService interface {
	ListDocuments(ctx context.Context, clientID string) ([]*Document, error)
	ListPendingDocuments(ctx context.Context) ([]*Document, error)
}

// CommunicationService persists outbound message records.
type CommunicationService interface {
	RecordCommunication(ctx context.Context, comm *Communication) error
}

// ActorDirectory resolves application users by id or role.
type ActorDirectory interface {
	ActorByID(ctx context.Context, id string) (*Actor, error)
	ActorsByRole(ctx context.Context, role string) ([]*Actor, error)
}

// TemplateStore fetches reusable message templates by id.
type TemplateStore interface {
	MessageTemplate(ctx context.Context, id string) (*MessageTemplate, error)
}

// ActivityLog is the append-only audit sink. Implementations must never
// mutate or delete entries.
type ActivityLog interface {
	Append(ctx context.Context, entry *ActivityEntry) error
}

// ClientLister enumerates clients for time-based trigger scans.
type ClientLister interface {
	ListClients(ctx context.Context) ([]*Client, error)
}

// Services bundles the collaborator interfaces for injection into the
// action executor and scheduler scans.
type Services struct {
	Clients        ClientService
	ClientIndex    ClientLister
	Tasks          TaskService
	Documents      DocumentService
	Communications CommunicationService
	Actors         ActorDirectory
	Templates      TemplateStore
	Activity       ActivityLog
}
