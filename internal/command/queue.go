package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/relaybus-core/internal/audit"
	"github.com/nerrad567/relaybus-core/internal/device"
	"github.com/nerrad567/relaybus-core/internal/metrics"
	"github.com/nerrad567/relaybus-core/internal/transport"
)

// Write paths recorded on an Outcome.
const (
	ViaCoil     = "coil"
	ViaRegister = "register"
)

const (
	defaultQueueSize      = 64
	defaultMaxAttempts    = 3
	defaultRetryBackoff   = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultAttemptTimeout = 10 * time.Second

	auditTimeout = 5 * time.Second
)

// Logger defines the logging interface used by the Queue.
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

// Registry resolves channels and records device reachability.
type Registry interface {
	LookupChannel(ctx context.Context, id string) (*device.Channel, *device.Device, error)
	SetDeviceOnline(ctx context.Context, id string, online bool, seenAt time.Time) (bool, error)
}

// Writer performs relay writes on a gateway bus.
type Writer interface {
	WriteCoil(ctx context.Context, gatewayID string, slave uint8, address uint16, on bool) error
	WriteRegister(ctx context.Context, gatewayID string, slave uint8, address, value uint16) error
}

// StateStore persists confirmed relay states.
type StateStore interface {
	SetRelayState(ctx context.Context, s *device.RelayState) error
}

// AuditRecorder stores command outcomes.
type AuditRecorder interface {
	Create(ctx context.Context, log *audit.AuditLog) error
}

// Config holds the queue settings.
type Config struct {
	// QueueSize bounds each gateway lane.
	QueueSize int

	// MaxAttempts bounds the writes per command, including the first.
	MaxAttempts int

	// RetryBackoff is the delay before the second attempt; it doubles per
	// attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// AttemptTimeout bounds one write including the wait in the gateway FIFO.
	AttemptTimeout time.Duration
}

// Deps holds the collaborators of a Queue. Audit and Metrics are optional.
type Deps struct {
	Registry Registry
	Writer   Writer
	States   StateStore
	Audit    AuditRecorder
	Metrics  *metrics.Metrics
	Logger   Logger
}

// Command is one requested relay change.
type Command struct {
	ID          string        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	State       bool          `json:"state"`
	Source      device.Source `json:"source"`
	SubmittedAt time.Time     `json:"submitted_at"`

	deviceID  string
	gatewayID string
	slave     uint8
	address   uint16
}

// Outcome is the final result of a command.
type Outcome struct {
	CommandID   string        `json:"command_id"`
	ChannelID   string        `json:"channel_id"`
	State       bool          `json:"state"`
	Source      device.Source `json:"source"`
	Attempts    int           `json:"attempts"`
	Via         string        `json:"via,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Err         error         `json:"-"`
}

// Succeeded reports whether the relay was switched and the state persisted.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Pending is an accepted command awaiting its outcome.
type Pending struct {
	ID        string
	ChannelID string
	done      chan Outcome
}

// Done delivers exactly one Outcome.
func (p *Pending) Done() <-chan Outcome {
	return p.done
}

// Wait blocks until the outcome is known or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-p.done:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type request struct {
	cmd  Command
	done chan Outcome
}

type lane struct {
	gatewayID string
	jobs      chan *request
}

// Queue accepts relay commands and applies them per gateway lane.
//
// All public methods are thread-safe.
type Queue struct {
	cfg      Config
	registry Registry
	writer   Writer
	states   StateStore
	audit    AuditRecorder
	metrics  *metrics.Metrics
	logger   Logger

	mu      sync.Mutex
	lanes   map[string]*lane
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup

	// senders counts SubmitWait calls that may still place a job on a lane.
	senders sync.WaitGroup

	// runCtx bounds in-flight writes; it is cancelled only when Close gives up.
	runCtx    context.Context
	runCancel context.CancelFunc

	obsMu           sync.RWMutex
	stateObservers  []func(device.RelayState)
	statusObservers []func(device.StatusChange)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue creates a Queue. Lanes start lazily on first use.
func NewQueue(cfg Config, deps Deps) *Queue {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:       cfg,
		registry:  deps.Registry,
		writer:    deps.Writer,
		states:    deps.States,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    logger,
		lanes:     make(map[string]*lane),
		closing:   make(chan struct{}),
		runCtx:    runCtx,
		runCancel: cancel,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// OnRelayState registers a callback for every persisted relay state.
// Callbacks run on the lane goroutine and must not block.
func (q *Queue) OnRelayState(fn func(device.RelayState)) {
	q.obsMu.Lock()
	q.stateObservers = append(q.stateObservers, fn)
	q.obsMu.Unlock()
}

// OnStatusChange registers a callback for device online transitions caused
// by command outcomes.
func (q *Queue) OnStatusChange(fn func(device.StatusChange)) {
	q.obsMu.Lock()
	q.statusObservers = append(q.statusObservers, fn)
	q.obsMu.Unlock()
}

// Submit validates a command and places it on its gateway lane.
//
// Submit never blocks: a lane with no free slot rejects the command at
// once. Callers that must not lose a command to a transient burst use
// SubmitWait instead.
//
// Parameters:
//   - ctx: bounds the registry lookup
//   - channelID: the relay channel to switch
//   - state: true for on, false for off
//   - source: who asked for the change (manual, schedule, trigger, recovery)
//
// Returns:
//   - *Pending: delivers the Outcome once the lane has applied the command
//   - error: wraps ErrCommandRejected together with the reason:
//     device.ErrUnknownChannel, device.ErrNotRelayChannel,
//     device.ErrInvalidSource, ErrChannelDisabled, ErrQueueFull or
//     ErrQueueClosed. Lookup failures other than not-found are wrapped
//     as they are.
//
// Thread Safety: safe for concurrent use.
func (q *Queue) Submit(ctx context.Context, channelID string, state bool, source device.Source) (*Pending, error) {
	req, err := q.prepare(ctx, channelID, state, source)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, q.reject(source, ErrQueueClosed)
	}

	l := q.laneLocked(req.cmd.gatewayID)
	select {
	case l.jobs <- req:
	default:
		return nil, q.reject(source, fmt.Errorf("%w: gateway %s", ErrQueueFull, req.cmd.gatewayID))
	}

	q.logQueued(req.cmd)
	return &Pending{ID: req.cmd.ID, ChannelID: channelID, done: req.done}, nil
}

// SubmitWait is Submit, except that a full lane blocks until a slot frees
// up, ctx ends or the queue closes. When ctx ends first the error wraps
// ErrQueueFull and ctx.Err().
func (q *Queue) SubmitWait(ctx context.Context, channelID string, state bool, source device.Source) (*Pending, error) {
	req, err := q.prepare(ctx, channelID, state, source)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, q.reject(source, ErrQueueClosed)
	}
	l := q.laneLocked(req.cmd.gatewayID)
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case <-q.closing:
		return nil, q.reject(source, ErrQueueClosed)
	default:
	}

	select {
	case l.jobs <- req:
	case <-q.closing:
		return nil, q.reject(source, ErrQueueClosed)
	case <-ctx.Done():
		return nil, q.reject(source, fmt.Errorf("%w: gateway %s: %w", ErrQueueFull, req.cmd.gatewayID, ctx.Err()))
	}

	q.logQueued(req.cmd)
	return &Pending{ID: req.cmd.ID, ChannelID: channelID, done: req.done}, nil
}

// prepare validates a command and resolves its target.
func (q *Queue) prepare(ctx context.Context, channelID string, state bool, source device.Source) (*request, error) {
	if !source.Valid() {
		return nil, q.reject(source, fmt.Errorf("%w: %q", device.ErrInvalidSource, source))
	}

	ch, dev, err := q.registry.LookupChannel(ctx, channelID)
	if err != nil {
		return nil, q.reject(source, err)
	}
	if !ch.IsRelay() {
		return nil, q.reject(source, fmt.Errorf("%w: %s is %q", device.ErrNotRelayChannel, channelID, ch.Type))
	}
	if !ch.Enabled || !dev.Enabled {
		return nil, q.reject(source, fmt.Errorf("%w: %s", ErrChannelDisabled, channelID))
	}

	return &request{
		cmd: Command{
			ID:          uuid.NewString(),
			ChannelID:   channelID,
			State:       state,
			Source:      source,
			SubmittedAt: q.now().UTC(),
			deviceID:    dev.ID,
			gatewayID:   dev.GatewayID,
			slave:       dev.SlaveID(),
			address:     ch.CoilAddress(),
		},
		done: make(chan Outcome, 1),
	}, nil
}

func (q *Queue) logQueued(cmd Command) {
	q.logger.Debug("relay command queued",
		"command_id", cmd.ID,
		"channel_id", cmd.ChannelID,
		"state", cmd.State,
		"source", cmd.Source,
		"gateway_id", cmd.gatewayID,
	)
}

func (q *Queue) reject(source device.Source, reason error) error {
	q.metrics.IncCommand(string(source), metrics.OutcomeRejected)
	return fmt.Errorf("%w: %w", ErrCommandRejected, reason)
}

// laneLocked returns the lane of a gateway, starting it if needed.
// q.mu must be held.
func (q *Queue) laneLocked(gatewayID string) *lane {
	if l, ok := q.lanes[gatewayID]; ok {
		return l
	}
	l := &lane{gatewayID: gatewayID, jobs: make(chan *request, q.cfg.QueueSize)}
	q.lanes[gatewayID] = l
	q.wg.Add(1)
	go q.runLane(l)
	return l
}

// Depths returns the number of queued commands per gateway.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.lanes))
	for id, l := range q.lanes {
		out[id] = len(l.jobs)
	}
	return out
}

// Close stops accepting commands. Each lane finishes the command in flight
// and fails everything still queued with ErrQueueClosed, so every accepted
// command receives an outcome. If ctx ends first, in-flight writes are
// cancelled and Close returns ctx.Err() after the lanes exit.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closing)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.runCancel()
		return nil
	case <-ctx.Done():
		q.runCancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) runLane(l *lane) {
	defer q.wg.Done()

	for {
		// closing wins over queued work
		select {
		case <-q.closing:
			q.senders.Wait()
			q.drain(l)
			return
		default:
		}

		select {
		case <-q.closing:
			q.senders.Wait()
			q.drain(l)
			return
		case req := <-l.jobs:
			req.done <- q.execute(req.cmd)
		}
	}
}

func (q *Queue) drain(l *lane) {
	for {
		select {
		case req := <-l.jobs:
			out := Outcome{
				CommandID:   req.cmd.ID,
				ChannelID:   req.cmd.ChannelID,
				State:       req.cmd.State,
				Source:      req.cmd.Source,
				CompletedAt: q.now().UTC(),
				Err:         fmt.Errorf("%w: %w", ErrCommandRejected, ErrQueueClosed),
			}
			q.logger.Warn("relay command dropped at shutdown",
				"command_id", req.cmd.ID,
				"channel_id", req.cmd.ChannelID,
				"source", req.cmd.Source,
			)
			q.record(req.cmd, out)
			q.metrics.IncCommand(string(req.cmd.Source), metrics.OutcomeFailed)
			req.done <- out
		default:
			return
		}
	}
}

func (q *Queue) execute(cmd Command) Outcome {
	out := Outcome{
		CommandID: cmd.ID,
		ChannelID: cmd.ChannelID,
		State:     cmd.State,
		Source:    cmd.Source,
	}

	backoff := q.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		q.metrics.IncCommandAttempt()

		via, err := q.write(cmd)
		if err == nil {
			out.Via = via
			lastErr = nil
			break
		}
		lastErr = err

		if attempt == q.cfg.MaxAttempts || q.runCtx.Err() != nil {
			break
		}
		q.logger.Warn("relay write failed, retrying",
			"command_id", cmd.ID,
			"channel_id", cmd.ChannelID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := q.sleep(q.runCtx, backoff); err != nil {
			break
		}
		backoff = min(backoff*2, q.cfg.MaxBackoff)
	}

	now := q.now().UTC()
	out.CompletedAt = now

	if lastErr != nil {
		out.Err = fmt.Errorf("%w: %w", ErrCommandRejected, lastErr)
		q.fail(cmd, out, lastErr)
		return out
	}

	state := device.RelayState{
		ChannelID: cmd.ChannelID,
		State:     cmd.State,
		Source:    cmd.Source,
		Timestamp: now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := q.states.SetRelayState(ctx, &state); err != nil {
		// The relay switched but the state could not be recorded, so the
		// command is not reported as applied.
		out.Err = fmt.Errorf("persisting relay state: %w", err)
		q.logger.Error("relay switched but state not persisted",
			"command_id", cmd.ID,
			"channel_id", cmd.ChannelID,
			"error", err,
		)
		q.record(cmd, out)
		q.metrics.IncCommand(string(cmd.Source), metrics.OutcomeFailed)
		return out
	}

	q.setOnline(ctx, cmd.deviceID, true, now)
	q.record(cmd, out)
	q.metrics.IncCommand(string(cmd.Source), metrics.OutcomeSucceeded)
	q.logger.Info("relay command applied",
		"command_id", cmd.ID,
		"channel_id", cmd.ChannelID,
		"state", cmd.State,
		"source", cmd.Source,
		"attempts", out.Attempts,
		"via", out.Via,
	)

	q.obsMu.RLock()
	observers := q.stateObservers
	q.obsMu.RUnlock()
	for _, fn := range observers {
		fn(state)
	}
	return out
}

// write switches the relay coil, falling back to the holding register of
// the same index when the device rejects the coil function.
func (q *Queue) write(cmd Command) (string, error) {
	ctx, cancel := context.WithTimeout(q.runCtx, q.cfg.AttemptTimeout)
	defer cancel()

	err := q.writer.WriteCoil(ctx, cmd.gatewayID, cmd.slave, cmd.address, cmd.State)
	if err == nil {
		return ViaCoil, nil
	}
	if !errors.Is(err, transport.ErrProtocol) {
		return "", err
	}

	var value uint16
	if cmd.State {
		value = 1
	}
	if regErr := q.writer.WriteRegister(ctx, cmd.gatewayID, cmd.slave, cmd.address, value); regErr != nil {
		return "", fmt.Errorf("coil: %w; register: %w", err, regErr)
	}
	return ViaRegister, nil
}

func (q *Queue) fail(cmd Command, out Outcome, cause error) {
	q.logger.Error("relay command failed",
		"command_id", cmd.ID,
		"channel_id", cmd.ChannelID,
		"state", cmd.State,
		"source", cmd.Source,
		"attempts", out.Attempts,
		"error", cause,
	)

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	// A write cancelled by shutdown says nothing about the device.
	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, transport.ErrClosed) {
		q.setOnline(ctx, cmd.deviceID, false, out.CompletedAt)
	}
	q.record(cmd, out)
	q.metrics.IncCommand(string(cmd.Source), metrics.OutcomeFailed)
}

func (q *Queue) setOnline(ctx context.Context, deviceID string, online bool, at time.Time) {
	changed, err := q.registry.SetDeviceOnline(ctx, deviceID, online, at)
	if err != nil {
		q.logger.Warn("updating device online state", "device_id", deviceID, "error", err)
		return
	}
	if !changed {
		return
	}

	q.obsMu.RLock()
	observers := q.statusObservers
	q.obsMu.RUnlock()
	for _, fn := range observers {
		fn(device.StatusChange{DeviceID: deviceID, Online: online, At: at})
	}
}

// record writes the outcome to the audit trail.
func (q *Queue) record(cmd Command, out Outcome) {
	if q.audit == nil {
		return
	}

	details := map[string]any{
		"command_id": cmd.ID,
		"state":      cmd.State,
		"attempts":   out.Attempts,
		"outcome":    metrics.OutcomeSucceeded,
	}
	if out.Via != "" {
		details["via"] = out.Via
	}
	if out.Err != nil {
		details["outcome"] = metrics.OutcomeFailed
		details["error"] = out.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := q.audit.Create(ctx, &audit.AuditLog{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityChannel,
		EntityID:   cmd.ChannelID,
		Source:     string(cmd.Source),
		Details:    details,
		CreatedAt:  out.CompletedAt,
	})
	if err != nil {
		q.logger.Warn("writing command audit entry", "command_id", cmd.ID, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
