package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

// Dispatcher fans a domain event out to every active definition listening
// for its trigger type. Event producers never wait on workflow execution:
// Fire returns once the runs are enqueued on the worker pool.
type Dispatcher struct {
	store  store.Store
	engine *engine.Engine
	pool   *engine.WorkerPool
	logger *slog.Logger
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Store    store.Store
	Engine   *engine.Engine
	PoolSize int
	Logger   *slog.Logger
}

// New builds a Dispatcher from the given configuration.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "dispatcher requires a store")
	}
	if cfg.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "dispatcher requires an engine")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  cfg.Store,
		engine: cfg.Engine,
		pool:   engine.NewWorkerPool(cfg.PoolSize, logger),
		logger: logger,
	}, nil
}

// Fire matches the event against active, non-template definitions with the
// event's trigger type and schedules one engine run per match. Each run gets
// its own snapshot of the event; a failing or panicking run cannot affect
// its siblings or the caller. Returns the number of runs enqueued.
func (d *Dispatcher) Fire(ctx context.Context, event *schema.TriggerEvent) (int, error) {
	if event == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "fire requires a trigger event")
	}
	if !schema.ValidTriggerType(event.Type) {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger type %q", event.Type)
	}

	active, template := true, false
	defs, err := d.store.ListDefinitions(ctx, store.DefinitionFilter{
		Trigger:  &event.Type,
		Active:   &active,
		Template: &template,
	})
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, def := range defs {
		def := def
		snapshot := event.Clone()
		name := fmt.Sprintf("run %s v%d", def.ID, def.Version)
		// runs outlive the producer's request context
		jobCtx := context.WithoutCancel(ctx)
		err := d.pool.Submit(jobCtx, name, func(ctx context.Context) error {
			_, err := d.engine.Run(ctx, def, snapshot)
			return err
		})
		if err != nil {
			d.logger.Warn("enqueue run",
				slog.String("definition_id", def.ID),
				slog.String("trigger", string(event.Type)),
				slog.String("error", err.Error()))
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// FireDefinition schedules a single definition run on the worker pool,
// bypassing trigger matching. The scheduler uses it for cron fires and
// time-based scans so those runs share the pool's isolation guarantees.
func (d *Dispatcher) FireDefinition(ctx context.Context, def *store.Definition, event *schema.TriggerEvent) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "fire requires a definition")
	}
	if event == nil {
		return schema.NewError(schema.ErrCodeValidation, "fire requires a trigger event")
	}
	snapshot := event.Clone()
	name := fmt.Sprintf("run %s v%d", def.ID, def.Version)
	return d.pool.Submit(context.WithoutCancel(ctx), name, func(ctx context.Context) error {
		_, err := d.engine.Run(ctx, def, snapshot)
		return err
	})
}

// FireManual runs one definition directly, bypassing trigger matching and
// the active flag. The event is stamped as a manual trigger. Unlike Fire,
// the run is synchronous so the caller gets the execution back.
func (d *Dispatcher) FireManual(ctx context.Context, definitionID string, event *schema.TriggerEvent) (*store.Execution, error) {
	def, err := d.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def.Template {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"definition %q is a template; clone it before firing", definitionID)
	}

	if event == nil {
		event = &schema.TriggerEvent{}
	}
	event = event.Clone()
	event.Type = schema.TriggerManual
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return d.engine.Run(ctx, def, event)
}

// Metrics returns the worker pool counters.
func (d *Dispatcher) Metrics() engine.PoolMetrics {
	return d.pool.Metrics()
}

// Shutdown stops accepting events and waits for in-flight runs.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.Shutdown(ctx)
}
