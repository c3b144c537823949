package actions

import (
	"sort"
	"sync"

	"github.com/clienthub/automation/pkg/schema"
)

// Registry is a thread-safe action lookup table keyed by action type.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.ActionType]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[schema.ActionType]Action),
	}
}

// Register adds an action to the registry. Returns error on duplicate name.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	name := action.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", name)
	}

	r.actions[name] = action
	return nil
}

// Get retrieves an action by type.
func (r *Registry) Get(name schema.ActionType) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "action %q not registered", name)
	}
	return action, nil
}

// Has checks if an action is registered.
func (r *Registry) Has(name schema.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        schema.ActionType `json:"name"`
	Description string            `json:"description,omitempty"`
}

// List returns info for all registered actions, sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, ActionInfo{
			Name:        a.Name(),
			Description: a.Description(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
