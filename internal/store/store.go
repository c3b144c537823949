package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	CreateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, id string) (*Definition, error)
	UpdateDefinition(ctx context.Context, id string, update DefinitionUpdate) error
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*Definition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	DeleteExecution(ctx context.Context, id string) error

	// Execution Logs (append-only)
	AppendLog(ctx context.Context, entry *ExecutionLog) error
	ListLogs(ctx context.Context, executionID string) ([]*ExecutionLog, error)

	// Wait Timers
	CreateWaitTimer(ctx context.Context, timer *WaitTimer) error
	DueWaitTimers(ctx context.Context, limit int) ([]*WaitTimer, error)
	DeleteWaitTimer(ctx context.Context, executionID string) error

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
