package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the transport package.
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

// job is one request waiting in a worker's FIFO.
type job struct {
	ctx   context.Context
	slave byte
	op    string
	fn    func(Link) error
	done  chan error // buffered(1); the worker never blocks on delivery
}

// Worker serialises every request for one gateway onto one Link.
type Worker struct {
	gatewayID string
	link      Link
	jobs      chan *job
	stop      chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    Logger

	connected atomic.Bool
	completed atomic.Uint64
	failed    atomic.Uint64
	lastErr   atomic.Pointer[string]
}

// WorkerStats is a point-in-time view of a worker.
type WorkerStats struct {
	GatewayID  string `json:"gateway_id"`
	QueueDepth int    `json:"queue_depth"`
	Connected  bool   `json:"connected"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	LastError  string `json:"last_error,omitempty"`
}

// NewWorker starts a worker goroutine for a gateway.
// queueSize bounds the FIFO; callers block while it is full.
func NewWorker(gatewayID string, link Link, queueSize int, logger Logger) *Worker {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = noopLogger{}
	}
	w := &Worker{
		gatewayID: gatewayID,
		link:      link,
		jobs:      make(chan *job, queueSize),
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
		logger:    logger,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Do queues fn behind every earlier request and waits for it to run.
// If ctx ends first the caller stops waiting; a job that already started is
// allowed to finish on the bus.
func (w *Worker) Do(ctx context.Context, slave byte, op string, fn func(Link) error) error {
	j := &job{ctx: ctx, slave: slave, op: op, fn: fn, done: make(chan error, 1)}

	select {
	case <-w.stop:
		return ErrClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.stop:
		return ErrClosed
	case <-ctx.Done():
		return contextError(ctx.Err())
	}

	select {
	case err := <-j.done:
		return err
	case <-w.exited:
		// enqueued after the final drain
		select {
		case err := <-j.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
}

// Close stops the worker after the job in flight completes.
// Jobs still queued are answered with ErrClosed.
func (w *Worker) Close() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

// Stats reports queue depth and connection state.
func (w *Worker) Stats() WorkerStats {
	s := WorkerStats{
		GatewayID:  w.gatewayID,
		QueueDepth: len(w.jobs),
		Connected:  w.connected.Load(),
		Completed:  w.completed.Load(),
		Failed:     w.failed.Load(),
	}
	if p := w.lastErr.Load(); p != nil {
		s.LastError = *p
	}
	return s
}

func (w *Worker) run() {
	defer w.wg.Done()
	defer close(w.exited)
	defer w.disconnect()

	for {
		// stop wins over queued work
		select {
		case <-w.stop:
			w.drain()
			return
		default:
		}

		select {
		case <-w.stop:
			w.drain()
			return
		case j := <-w.jobs:
			j.done <- w.execute(j)
		}
	}
}

func (w *Worker) execute(j *job) error {
	if err := j.ctx.Err(); err != nil {
		return contextError(err)
	}

	if !w.connected.Load() {
		if err := w.link.Connect(); err != nil {
			err = classify(err)
			w.record(err)
			w.logger.Warn("gateway connect failed", "gateway_id", w.gatewayID, "error", err)
			_ = w.link.Close()
			return err
		}
		w.connected.Store(true)
		w.logger.Info("gateway connected", "gateway_id", w.gatewayID)
	}

	start := time.Now()
	w.link.SetSlave(j.slave)
	err := classify(j.fn(w.link))
	w.record(err)

	if err != nil {
		w.logger.Debug("modbus request failed",
			"gateway_id", w.gatewayID,
			"slave", j.slave,
			"op", j.op,
			"duration", time.Since(start),
			"error", err,
		)
		if dropsLink(err) {
			w.disconnect()
		}
	}
	return err
}

func (w *Worker) record(err error) {
	if err == nil {
		w.completed.Add(1)
		return
	}
	w.failed.Add(1)
	msg := err.Error()
	w.lastErr.Store(&msg)
}

func (w *Worker) disconnect() {
	if !w.connected.Swap(false) {
		return
	}
	if err := w.link.Close(); err != nil {
		w.logger.Debug("closing gateway link", "gateway_id", w.gatewayID, "error", err)
	}
}

func (w *Worker) drain() {
	for {
		select {
		case j := <-w.jobs:
			j.done <- ErrClosed
		default:
			return
		}
	}
}
