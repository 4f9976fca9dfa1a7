package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the automation components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches schedules and triggers in front of a Repository.
//
// The cache is populated via RefreshCache() and kept in sync by the
// mutating methods. All public methods are thread-safe and return deep
// copies.
type Registry struct {
	repo      Repository
	schedules map[string]*Schedule
	triggers  map[string]*Trigger
	cacheMu   sync.RWMutex
	logger    Logger
}

// NewRegistry creates a new automation registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		schedules: make(map[string]*Schedule),
		triggers:  make(map[string]*Trigger),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all schedules and triggers from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	schedules, err := r.repo.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	triggers, err := r.repo.ListTriggers(ctx)
	if err != nil {
		return fmt.Errorf("loading triggers: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.schedules = make(map[string]*Schedule, len(schedules))
	for i := range schedules {
		r.schedules[schedules[i].ID] = schedules[i].DeepCopy()
	}
	r.triggers = make(map[string]*Trigger, len(triggers))
	for i := range triggers {
		r.triggers[triggers[i].ID] = triggers[i].DeepCopy()
	}

	r.logger.Info("automation cache refreshed", "schedules", len(schedules), "triggers", len(triggers))
	return nil
}

// Schedules returns all cached schedules sorted by name.
func (r *Registry) Schedules() []Schedule {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, *s.DeepCopy())
	}
	sortSchedules(out)
	return out
}

// GetSchedule retrieves a cached schedule by ID.
func (r *Registry) GetSchedule(id string) (*Schedule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.DeepCopy(), nil
}

// CreateSchedule validates, persists, and caches a new schedule.
func (r *Registry) CreateSchedule(ctx context.Context, s *Schedule) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	if err := ValidateSchedule(s); err != nil {
		return err
	}
	if err := r.repo.CreateSchedule(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.schedules[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("schedule created", "id", s.ID, "name", s.Name)
	return nil
}

// UpdateSchedule validates, persists, and re-caches a schedule.
func (r *Registry) UpdateSchedule(ctx context.Context, s *Schedule) error {
	if err := ValidateSchedule(s); err != nil {
		return err
	}
	if err := r.repo.UpdateSchedule(ctx, s); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.schedules[s.ID] = s.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("schedule updated", "id", s.ID, "enabled", s.Enabled)
	return nil
}

// DeleteSchedule removes a schedule from persistence and cache.
func (r *Registry) DeleteSchedule(ctx context.Context, id string) error {
	if err := r.repo.DeleteSchedule(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.schedules, id)
	r.cacheMu.Unlock()

	r.logger.Info("schedule deleted", "id", id)
	return nil
}

// Triggers returns all cached triggers sorted by name.
func (r *Registry) Triggers() []Trigger {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, *t.DeepCopy())
	}
	sortTriggers(out)
	return out
}

// GetTrigger retrieves a cached trigger by ID.
func (r *Registry) GetTrigger(id string) (*Trigger, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	t, ok := r.triggers[id]
	if !ok {
		return nil, ErrTriggerNotFound
	}
	return t.DeepCopy(), nil
}

// CreateTrigger validates, persists, and caches a new trigger.
func (r *Registry) CreateTrigger(ctx context.Context, t *Trigger) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	if err := r.repo.CreateTrigger(ctx, t); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.triggers[t.ID] = t.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("trigger created", "id", t.ID, "name", t.Name)
	return nil
}

// UpdateTrigger validates, persists, and re-caches a trigger definition.
// The cached last_fired is preserved.
func (r *Registry) UpdateTrigger(ctx context.Context, t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	if err := r.repo.UpdateTrigger(ctx, t); err != nil {
		return err
	}

	r.cacheMu.Lock()
	cpy := t.DeepCopy()
	if old, ok := r.triggers[t.ID]; ok {
		cpy.LastFired = old.DeepCopy().LastFired
	}
	r.triggers[t.ID] = cpy
	r.cacheMu.Unlock()

	r.logger.Info("trigger updated", "id", t.ID, "enabled", t.Enabled)
	return nil
}

// DeleteTrigger removes a trigger from persistence and cache.
func (r *Registry) DeleteTrigger(ctx context.Context, id string) error {
	if err := r.repo.DeleteTrigger(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.triggers, id)
	r.cacheMu.Unlock()

	r.logger.Info("trigger deleted", "id", id)
	return nil
}

// SetTriggerLastFired records the last accepted command time.
//
// The cache is updated before the write so that the cooldown holds for
// this process even when persisting fails; the error is still returned.
func (r *Registry) SetTriggerLastFired(ctx context.Context, id string, at time.Time) error {
	r.cacheMu.Lock()
	if t, ok := r.triggers[id]; ok {
		fired := at.UTC()
		t.LastFired = &fired
	}
	r.cacheMu.Unlock()

	return r.repo.SetTriggerLastFired(ctx, id, at)
}
