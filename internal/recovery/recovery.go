// Package recovery re-applies the persisted relay states once at startup.
//
// After a power cut the relay boards come back with every output off while
// the database still holds what each channel was last commanded to. The
// Manager submits every persisted state through the command queue with
// source "recovery", without comparing it to the hardware first, and waits
// for the outcomes up to a fixed timeout. Failures are logged and audited
// but never stop the controller from starting.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/relaybus-core/internal/audit"
	"github.com/nerrad567/relaybus-core/internal/command"
	"github.com/nerrad567/relaybus-core/internal/device"
)

const defaultTimeout = 30 * time.Second

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateLister lists the persisted relay states.
type StateLister interface {
	ListRelayStates(ctx context.Context) ([]device.RelayState, error)
}

// Submitter enqueues relay commands, waiting for lane space when a gateway
// has more saved states than its queue holds.
type Submitter interface {
	SubmitWait(ctx context.Context, channelID string, state bool, source device.Source) (*command.Pending, error)
}

// AuditRecorder writes the run summary to the audit trail.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Config controls a recovery run.
type Config struct {
	Enabled bool

	// Timeout bounds the wait for all outcomes.
	Timeout time.Duration
}

// Summary counts the outcome of a recovery run.
//
// Skipped channels are those no longer in the registry or no longer relay
// outputs. Commands still pending when the timeout expires count as failed.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Manager runs startup recovery.
type Manager struct {
	cfg    Config
	states StateLister
	submit Submitter
	audit  AuditRecorder
	logger Logger
}

// New creates a recovery Manager. audit may be nil.
func New(cfg Config, states StateLister, submit Submitter, auditRec AuditRecorder) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Manager{
		cfg:    cfg,
		states: states,
		submit: submit,
		audit:  auditRec,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Run submits every persisted relay state and waits for the outcomes.
// It returns a zero Summary when recovery is disabled.
func (m *Manager) Run(ctx context.Context) Summary {
	if !m.cfg.Enabled {
		m.logger.Info("state recovery disabled")
		return Summary{}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	states, err := m.states.ListRelayStates(ctx)
	if err != nil {
		m.logger.Error("listing relay states for recovery", "error", err)
		return Summary{}
	}

	sum := Summary{Total: len(states)}
	m.logger.Info("state recovery started", "channels", len(states), "timeout", m.cfg.Timeout)

	var pending []*command.Pending
	for _, st := range states {
		p, err := m.submit.SubmitWait(ctx, st.ChannelID, st.State, device.SourceRecovery)
		switch {
		case err == nil:
			pending = append(pending, p)
		case errors.Is(err, device.ErrUnknownChannel), errors.Is(err, device.ErrNotRelayChannel):
			sum.Skipped++
			m.logger.Warn("recovery skipped channel no longer in registry",
				"channel_id", st.ChannelID,
				"error", err,
			)
		default:
			sum.Failed++
			m.logger.Warn("recovery command rejected",
				"channel_id", st.ChannelID,
				"state", st.State,
				"error", err,
			)
		}
	}

	for _, p := range pending {
		out, err := p.Wait(ctx)
		if err != nil {
			sum.Failed++
			m.logger.Warn("recovery command timed out", "channel_id", p.ChannelID, "command_id", p.ID)
			continue
		}
		if out.Succeeded() {
			sum.Succeeded++
			m.logger.Debug("relay state restored", "channel_id", out.ChannelID, "state", out.State, "attempts", out.Attempts)
			continue
		}
		sum.Failed++
		m.logger.Warn("relay state not restored",
			"channel_id", out.ChannelID,
			"state", out.State,
			"attempts", out.Attempts,
			"error", out.Err,
		)
	}

	sum.Duration = time.Since(start)
	m.logger.Info("state recovery complete",
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"duration", sum.Duration,
	)
	m.record(sum)
	return sum
}

func (m *Manager) record(sum Summary) {
	if m.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.audit.Create(ctx, &audit.AuditLog{
		Action:     audit.ActionRecovery,
		EntityType: audit.EntitySystem,
		Source:     string(device.SourceRecovery),
		Details: map[string]any{
			"total":       sum.Total,
			"succeeded":   sum.Succeeded,
			"failed":      sum.Failed,
			"skipped":     sum.Skipped,
			"duration_ms": sum.Duration.Milliseconds(),
		},
	})
	if err != nil {
		m.logger.Warn("writing recovery audit entry", "error", err)
	}
}
