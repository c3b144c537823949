// Package memory provides an in-memory implementation of the domain
// collaborator interfaces. It backs the test suites and the sample binary;
// production deployments wire the surrounding application's services instead.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/pkg/schema"
)

// Fixture implements every interface in domain.Services over in-memory maps.
// Safe for concurrent use.
type Fixture struct {
	mu             sync.RWMutex
	clients        map[string]*domain.Client
	tasks          map[string]*domain.Task
	documents      map[string]*domain.Document
	communications []*domain.Communication
	actors         map[string]*domain.Actor
	templates      map[string]*domain.MessageTemplate
	activity       []*domain.ActivityEntry
}

// NewFixture creates an empty Fixture.
func NewFixture() *Fixture {
	return &Fixture{
		clients:   make(map[string]*domain.Client),
		tasks:     make(map[string]*domain.Task),
		documents: make(map[string]*domain.Document),
		actors:    make(map[string]*domain.Actor),
		templates: make(map[string]*domain.MessageTemplate),
	}
}

// Services returns the fixture bundled as domain.Services.
func (f *Fixture) Services() domain.Services {
	return domain.Services{
		Clients:        f,
		ClientIndex:    f,
		Tasks:          f,
		Documents:      f,
		Communications: f,
		Actors:         f,
		Templates:      f,
		Activity:       f,
	}
}

// --- Seeding helpers ---

// AddClient stores a client, assigning an id if empty, and returns it.
func (f *Fixture) AddClient(c *domain.Client) *domain.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	f.clients[c.ID] = c
	return c
}

// AddActor stores an actor, assigning an id if empty, and returns it.
func (f *Fixture) AddActor(a *domain.Actor) *domain.Actor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	f.actors[a.ID] = a
	return a
}

// AddDocument stores a document, assigning an id if empty, and returns it.
func (f *Fixture) AddDocument(d *domain.Document) *domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	f.documents[d.ID] = d
	return d
}

// AddTemplate stores a message template and returns it.
func (f *Fixture) AddTemplate(t *domain.MessageTemplate) *domain.MessageTemplate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	f.templates[t.ID] = t
	return t
}

// --- ClientService ---

func (f *Fixture) GetClient(_ context.Context, id string) (*domain.Client, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", id)
	}
	cp := *c
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp, nil
}

func (f *Fixture) UpdateStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fixture) AddTag(_ context.Context, id, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", id)
	}
	for _, t := range c.Tags {
		if t == tag {
			return nil // set semantics
		}
	}
	c.Tags = append(c.Tags, tag)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fixture) RemoveTag(_ context.Context, id, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", id)
	}
	kept := c.Tags[:0]
	for _, t := range c.Tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	c.Tags = kept
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *Fixture) ReassignOwner(_ context.Context, id, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "client %q not found", id)
	}
	if _, ok := f.actors[ownerID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "actor %q not found", ownerID)
	}
	c.OwnerID = ownerID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// --- ClientLister ---

func (f *Fixture) ListClients(_ context.Context) ([]*domain.Client, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.Client, 0, len(f.clients))
	for _, c := range f.clients {
		cp := *c
		cp.Tags = append([]string(nil), c.Tags...)
		out = append(out, &cp)
	}
	return out, nil
}

// --- TaskService ---

func (f *Fixture) CreateTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	f.tasks[task.ID] = task
	return nil
}

func (f *Fixture) GetTask(_ context.Context, id string) (*domain.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "task %q not found", id)
	}
	cp := *t
	return &cp, nil
}

func (f *Fixture) CompleteTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "task %q not found", id)
	}
	now := time.Now().UTC()
	t.Completed = true
	t.CompletedAt = &now
	return nil
}

func (f *Fixture) AssignTask(_ context.Context, id, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "task %q not found", id)
	}
	if _, ok := f.actors[actorID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "actor %q not found", actorID)
	}
	t.AssigneeID = actorID
	return nil
}

func (f *Fixture) ListOpenTasks(_ context.Context) ([]*domain.Task, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*domain.Task
	for _, t := range f.tasks {
		if !t.Completed {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Tasks returns a snapshot of all tasks, for assertions.
func (f *Fixture) Tasks() []*domain.Task {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// --- DocumentService ---

func (f *Fixture) ListDocuments(_ context.Context, clientID string) ([]*domain.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*domain.Document
	for _, d := range f.documents {
		if d.ClientID == clientID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fixture) ListPendingDocuments(_ context.Context) ([]*domain.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*domain.Document
	for _, d := range f.documents {
		if !d.Received {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- CommunicationService ---

func (f *Fixture) RecordCommunication(_ context.Context, comm *domain.Communication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if comm.ID == "" {
		comm.ID = uuid.NewString()
	}
	if comm.SentAt.IsZero() {
		comm.SentAt = time.Now().UTC()
	}
	f.communications = append(f.communications, comm)
	return nil
}

// Communications returns a snapshot of recorded messages, for assertions.
func (f *Fixture) Communications() []*domain.Communication {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.Communication, len(f.communications))
	copy(out, f.communications)
	return out
}

// --- ActorDirectory ---

func (f *Fixture) ActorByID(_ context.Context, id string) (*domain.Actor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.actors[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "actor %q not found", id)
	}
	cp := *a
	return &cp, nil
}

func (f *Fixture) ActorsByRole(_ context.Context, role string) ([]*domain.Actor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*domain.Actor
	for _, a := range f.actors {
		if a.Role == role {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- TemplateStore ---

func (f *Fixture) MessageTemplate(_ context.Context, id string) (*domain.MessageTemplate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "template %q not found", id)
	}
	cp := *t
	return &cp, nil
}

// --- ActivityLog ---

func (f *Fixture) Append(_ context.Context, entry *domain.ActivityEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	f.activity = append(f.activity, entry)
	return nil
}

// Activity returns a snapshot of the audit trail, for assertions.
func (f *Fixture) Activity() []*domain.ActivityEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.ActivityEntry, len(f.activity))
	copy(out, f.activity)
	return out
}
