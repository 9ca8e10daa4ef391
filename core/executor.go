package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chainrule-labs/pesto-contracts-sub000/core/events"
	"github.com/chainrule-labs/pesto-contracts-sub000/core/state"
	"github.com/chainrule-labs/pesto-contracts-sub000/observability"
	"github.com/chainrule-labs/pesto-contracts-sub000/storage"
)

// ErrOperationPanicked wraps a panic raised inside an operation. The
// operation's writes are discarded like any other failure.
var ErrOperationPanicked = errors.New("core: operation panicked")

// Tx is the view an operation gets of the protocol state. Writes through
// State are buffered until the operation returns without error; events
// emitted through Events are delivered only after the commit.
type Tx struct {
	State  *state.Manager
	Events events.Emitter
	Now    time.Time
	Name   string

	overlay *storage.Overlay
	buffer  *events.Buffer
}

// Executor runs protocol operations one at a time. Each operation sees the
// committed state plus its own writes, and either commits everything or
// nothing.
type Executor struct {
	db      storage.Database
	slot    chan struct{}
	emitter events.Emitter
	nowFn   func() time.Time
	logger  *slog.Logger
	metrics *observability.PositionMetrics
}

// NewExecutor constructs an executor over db.
func NewExecutor(db storage.Database) *Executor {
	return &Executor{
		db:      db,
		slot:    make(chan struct{}, 1),
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		logger:  slog.Default(),
	}
}

// SetEmitter configures where committed events are delivered.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Executor) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

func (e *Executor) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetMetrics enables operation metrics.
func (e *Executor) SetMetrics(m *observability.PositionMetrics) { e.metrics = m }

// Database exposes the committed store.
func (e *Executor) Database() storage.Database { return e.db }

func (e *Executor) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() { <-e.slot }

// Execute runs fn as one atomic operation. Operations are totally ordered:
// a second caller waits until the first has committed or rolled back, or
// until its context is cancelled.
func (e *Executor) Execute(ctx context.Context, name string, fn func(*Tx) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer("pesto/core").Start(ctx, name)
	defer span.End()

	if err := e.acquire(ctx); err != nil {
		e.metrics.RecordRollback(name, "cancelled")
		return err
	}
	defer e.release()

	started := time.Now()
	tx := e.begin(name)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation panicked", slog.String("operation", name), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %s: %v", ErrOperationPanicked, name, r)
			e.rollback(tx, name, "panic")
		}
		e.metrics.ObserveOperation(name, time.Since(started), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := fn(tx); err != nil {
		e.rollback(tx, name, "error")
		e.logger.Debug("operation rolled back", slog.String("operation", name), slog.Any("error", err))
		return err
	}
	// A cancelled caller never observes a commit it did not wait for.
	if err := ctx.Err(); err != nil {
		e.rollback(tx, name, "cancelled")
		return err
	}
	if err := tx.overlay.Commit(); err != nil {
		e.rollback(tx, name, "commit")
		return fmt.Errorf("core: commit %s: %w", name, err)
	}
	committed := tx.buffer.Events()
	tx.buffer.Reset()
	span.SetAttributes(attribute.Int("pesto.events", len(committed)))
	for _, ev := range committed {
		e.deliver(name, ev)
	}
	return nil
}

// deliver hands one committed event downstream. The operation has already
// committed, so a panicking emitter is logged and never reported as a failure.
func (e *Executor) deliver(name string, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event delivery panicked",
				slog.String("operation", name),
				slog.String("event", ev.EventType()),
				slog.Any("panic", r))
		}
	}()
	e.emitter.Emit(ev)
}

// View runs fn against the committed state. Anything fn writes is dropped
// and events are discarded.
func (e *Executor) View(ctx context.Context, fn func(*Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	tx := e.begin("view")
	defer tx.overlay.Discard()
	return fn(tx)
}

func (e *Executor) begin(name string) *Tx {
	overlay := storage.NewOverlay(e.db)
	buffer := &events.Buffer{}
	return &Tx{
		State:   state.NewManager(overlay),
		Events:  buffer,
		Now:     e.nowFn(),
		Name:    name,
		overlay: overlay,
		buffer:  buffer,
	}
}

func (e *Executor) rollback(tx *Tx, name, reason string) {
	tx.overlay.Discard()
	tx.buffer.Reset()
	e.metrics.RecordRollback(name, reason)
}
