package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clienthub/automation/internal/dispatch"
	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

const (
	defaultTickInterval = 60 * time.Second
	resumeBatchSize     = 100
)

// Scheduler drives everything time-based: it resumes executions whose wait
// timers have come due, fires scheduled definitions on their cron
// expressions, and runs the entity scans behind the time-based trigger
// types. All fires funnel through the dispatcher's worker pool.
type Scheduler struct {
	store      store.Store
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	services   *domain.Services
	parser     cron.Parser
	logger     *slog.Logger
	clock      func() time.Time
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stateMu sync.Mutex
	nextRun map[string]time.Time // definition ID -> next cron fire
	fired   map[string]struct{}  // scan dedup keys (definition, entity, day)
}

// Config wires the scheduler's collaborators.
type Config struct {
	Store      store.Store
	Engine     *engine.Engine
	Dispatcher *dispatch.Dispatcher
	Services   *domain.Services
	Logger     *slog.Logger
	Clock      func() time.Time
	Interval   time.Duration
}

// New builds a Scheduler from the given configuration.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a store")
	}
	if cfg.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires an engine")
	}
	if cfg.Dispatcher == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires a dispatcher")
	}
	if cfg.Services == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduler requires domain services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Scheduler{
		store:      cfg.Store,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		services:   cfg.Services,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     logger,
		clock:      clock,
		interval:   interval,
		nextRun:    make(map[string]time.Time),
		fired:      make(map[string]struct{}),
	}, nil
}

// Start launches the background loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop shuts the loop down and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduler pass: wait resumption, cron fires, entity scans.
// Errors are logged per concern; one failing concern never blocks the rest.
func (s *Scheduler) tick(ctx context.Context) {
	if resumed, err := s.engine.ResumeDue(ctx, resumeBatchSize); err != nil {
		s.logger.Error("resume due executions", slog.String("error", err.Error()))
	} else if resumed > 0 {
		s.logger.Info("resumed due executions", slog.Int("count", resumed))
	}

	s.fireCron(ctx)
	s.runScans(ctx)
}

// --- cron-scheduled definitions ---

// fireCron fires active scheduled definitions whose cron expression has come
// due. A definition seen for the first time is primed for its next slot
// rather than fired immediately.
func (s *Scheduler) fireCron(ctx context.Context) {
	defs, err := s.activeDefinitions(ctx, schema.TriggerScheduled)
	if err != nil {
		s.logger.Error("list scheduled definitions", slog.String("error", err.Error()))
		return
	}

	now := s.clock()
	for _, def := range defs {
		expr := ""
		if def.Body.TriggerConfig != nil {
			expr = def.Body.TriggerConfig.Cron
		}
		if expr == "" {
			continue
		}
		schedule, err := s.parser.Parse(expr)
		if err != nil {
			s.logger.Warn("invalid cron expression",
				slog.String("definition_id", def.ID), slog.String("cron", expr),
				slog.String("error", err.Error()))
			continue
		}

		s.stateMu.Lock()
		next, seen := s.nextRun[def.ID]
		if !seen {
			s.nextRun[def.ID] = schedule.Next(now)
			s.stateMu.Unlock()
			continue
		}
		due := !now.Before(next)
		if due {
			s.nextRun[def.ID] = schedule.Next(now)
		}
		s.stateMu.Unlock()
		if !due {
			continue
		}

		event := &schema.TriggerEvent{
			Type:       schema.TriggerScheduled,
			Data:       map[string]any{"cron": expr, "scheduled_for": next.Format(time.RFC3339)},
			OccurredAt: now,
		}
		if err := s.dispatcher.FireDefinition(ctx, def, event); err != nil {
			s.logger.Error("fire scheduled definition",
				slog.String("definition_id", def.ID), slog.String("error", err.Error()))
		}
	}
}

// --- time-based entity scans ---

// runScans enumerates qualifying entities for each time-based trigger type
// and fires the matching definitions, once per definition, entity, and day.
func (s *Scheduler) runScans(ctx context.Context) {
	now := s.clock()
	s.scanTasks(ctx, now)
	s.scanDocuments(ctx, now)
	s.scanClients(ctx, now)
}

func (s *Scheduler) scanTasks(ctx context.Context, now time.Time) {
	dueDefs, _ := s.activeDefinitions(ctx, schema.TriggerTaskDue)
	overdueDefs, _ := s.activeDefinitions(ctx, schema.TriggerTaskOverdue)
	if len(dueDefs) == 0 && len(overdueDefs) == 0 {
		return
	}

	tasks, err := s.services.Tasks.ListOpenTasks(ctx)
	if err != nil {
		s.logger.Error("list open tasks", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		if task.DueAt == nil {
			continue
		}
		data := map[string]any{
			"task_id":    task.ID,
			"task_title": task.Title,
			"due_at":     task.DueAt.Format(time.RFC3339),
		}
		if task.DueAt.Before(now) {
			for _, def := range overdueDefs {
				s.fireScan(ctx, def, schema.TriggerTaskOverdue, task.ClientID, task.ID, data, now)
			}
			continue
		}
		for _, def := range dueDefs {
			window := thresholdDays(def, 1)
			if !task.DueAt.After(now.AddDate(0, 0, window)) {
				s.fireScan(ctx, def, schema.TriggerTaskDue, task.ClientID, task.ID, data, now)
			}
		}
	}
}

func (s *Scheduler) scanDocuments(ctx context.Context, now time.Time) {
	dueDefs, _ := s.activeDefinitions(ctx, schema.TriggerDocumentDue)
	expiredDefs, _ := s.activeDefinitions(ctx, schema.TriggerDocumentExpired)
	if len(dueDefs) == 0 && len(expiredDefs) == 0 {
		return
	}

	docs, err := s.services.Documents.ListPendingDocuments(ctx)
	if err != nil {
		s.logger.Error("list pending documents", slog.String("error", err.Error()))
		return
	}

	for _, doc := range docs {
		data := map[string]any{
			"document_id":       doc.ID,
			"document_name":     doc.Name,
			"document_category": doc.Category,
		}
		if doc.ExpiresAt != nil && doc.ExpiresAt.Before(now) {
			for _, def := range expiredDefs {
				s.fireScan(ctx, def, schema.TriggerDocumentExpired, doc.ClientID, doc.ID, data, now)
			}
		}
		if doc.DueAt == nil || doc.DueAt.Before(now) {
			continue
		}
		for _, def := range dueDefs {
			window := thresholdDays(def, 1)
			if !doc.DueAt.After(now.AddDate(0, 0, window)) {
				s.fireScan(ctx, def, schema.TriggerDocumentDue, doc.ClientID, doc.ID, data, now)
			}
		}
	}
}

func (s *Scheduler) scanClients(ctx context.Context, now time.Time) {
	stageDefs, _ := s.activeDefinitions(ctx, schema.TriggerTimeInStage)
	inactiveDefs, _ := s.activeDefinitions(ctx, schema.TriggerClientInactive)
	dateDefs, _ := s.activeDefinitions(ctx, schema.TriggerDateBased)
	if len(stageDefs) == 0 && len(inactiveDefs) == 0 && len(dateDefs) == 0 {
		return
	}
	if s.services.ClientIndex == nil {
		return
	}

	clients, err := s.services.ClientIndex.ListClients(ctx)
	if err != nil {
		s.logger.Error("list clients", slog.String("error", err.Error()))
		return
	}

	for _, client := range clients {
		for _, def := range stageDefs {
			cfg := triggerConfig(def)
			if cfg.Stage != "" && cfg.Stage != client.Stage {
				continue
			}
			if client.StageSince.IsZero() || daysBetween(client.StageSince, now) < thresholdDays(def, 1) {
				continue
			}
			data := map[string]any{"stage": client.Stage, "days_in_stage": daysBetween(client.StageSince, now)}
			s.fireScan(ctx, def, schema.TriggerTimeInStage, client.ID, client.ID, data, now)
		}
		for _, def := range inactiveDefs {
			if client.LastTouch.IsZero() || daysBetween(client.LastTouch, now) < thresholdDays(def, 1) {
				continue
			}
			data := map[string]any{"days_inactive": daysBetween(client.LastTouch, now)}
			s.fireScan(ctx, def, schema.TriggerClientInactive, client.ID, client.ID, data, now)
		}
		for _, def := range dateDefs {
			cfg := triggerConfig(def)
			base, ok := clientDateField(client, cfg.DateField)
			if !ok {
				continue
			}
			target := base.AddDate(0, 0, cfg.OffsetDays)
			// annual recurrence: only the month and day must line up
			if target.Month() != now.Month() || target.Day() != now.Day() {
				continue
			}
			data := map[string]any{"date_field": cfg.DateField, "base_date": base.Format("2006-01-02")}
			s.fireScan(ctx, def, schema.TriggerDateBased, client.ID, client.ID, data, now)
		}
	}
}

// fireScan fires one (definition, entity) pair at most once per day.
func (s *Scheduler) fireScan(ctx context.Context, def *store.Definition, trigger schema.TriggerType, clientID, entityID string, data map[string]any, now time.Time) {
	key := fmt.Sprintf("%s|%s|%s", def.ID, entityID, now.Format("2006-01-02"))
	s.stateMu.Lock()
	if _, done := s.fired[key]; done {
		s.stateMu.Unlock()
		return
	}
	s.fired[key] = struct{}{}
	s.stateMu.Unlock()

	event := &schema.TriggerEvent{
		Type:       trigger,
		ClientID:   clientID,
		Data:       data,
		OccurredAt: now,
	}
	if clientID != "" && s.services.Clients != nil {
		if client, err := s.services.Clients.GetClient(ctx, clientID); err == nil {
			event.Entity = client.Snapshot()
		}
	}
	if err := s.dispatcher.FireDefinition(ctx, def, event); err != nil {
		s.logger.Error("fire scan match",
			slog.String("definition_id", def.ID),
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) activeDefinitions(ctx context.Context, trigger schema.TriggerType) ([]*store.Definition, error) {
	active, template := true, false
	return s.store.ListDefinitions(ctx, store.DefinitionFilter{
		Trigger:  &trigger,
		Active:   &active,
		Template: &template,
	})
}

func triggerConfig(def *store.Definition) schema.TriggerConfig {
	if def.Body.TriggerConfig == nil {
		return schema.TriggerConfig{}
	}
	return *def.Body.TriggerConfig
}

func thresholdDays(def *store.Definition, fallback int) int {
	cfg := triggerConfig(def)
	if cfg.ThresholdDays > 0 {
		return cfg.ThresholdDays
	}
	return fallback
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

// clientDateField resolves a date-based trigger's field against the client:
// the built-in timestamps by name, then custom fields parsed as RFC 3339 or
// plain dates.
func clientDateField(client *domain.Client, field string) (time.Time, bool) {
	switch field {
	case "":
		return time.Time{}, false
	case "created_at":
		return client.CreatedAt, !client.CreatedAt.IsZero()
	case "updated_at":
		return client.UpdatedAt, !client.UpdatedAt.IsZero()
	case "stage_since":
		return client.StageSince, !client.StageSince.IsZero()
	case "last_touch":
		return client.LastTouch, !client.LastTouch.IsZero()
	}
	raw, ok := client.Fields[field]
	if !ok {
		return time.Time{}, false
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, str); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", str); err == nil {
		return t, true
	}
	return time.Time{}, false
}
