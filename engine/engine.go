package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/pkg/metrics"
	"github.com/ardnew/g2link/protocol"
	"github.com/ardnew/g2link/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPending is returned by [Future.Result] before the operation completes.
var ErrPending = errors.New("operation pending")

// stopCommTimeout bounds the stop-communication command sent by Close.
const stopCommTimeout = 500 * time.Millisecond

// Engine synchronizes one patch slot with the device.
type Engine struct {
	tr      transport.Transport
	slot    patch.Slot
	channel protocol.Channel
	catalog patch.Catalog
	log     *zap.Logger
	metrics *metrics.Metrics
	pcfg    protocol.Config

	mu   sync.Mutex // serializes Open and Close
	conn atomic.Pointer[conn]

	stateMu  sync.Mutex // orders state changes against teardown
	state    atomic.Int32
	snapshot atomic.Pointer[patch.Patch] // written only by the worker

	params listeners[ParameterChange]
	states listeners[ConnectionState]
}

// conn is one connection: a session, its job queue and the goroutines
// serving them.
type conn struct {
	session *protocol.Session
	queue   *queue
	cancel  context.CancelFunc
	done    chan struct{}

	// acked holds the inbound order of the last applied SetParam
	// acknowledgement per parameter. Owned by the worker.
	acked map[paramKey]uint64
}

type paramKey struct {
	module patch.ModuleID
	param  uint8
}

func (c *conn) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// New creates a disconnected engine over tr.
func New(tr transport.Transport, opts ...Option) *Engine {
	o := applyDefaultOptions(opts...)

	pcfg := o.protocol
	pcfg.Metrics = o.metrics
	pcfg.Observer = o.recorder

	e := &Engine{
		tr:      tr,
		slot:    o.slot,
		channel: protocol.SlotChannel(o.slot),
		catalog: o.catalog,
		log:     o.logger.With(zap.Stringer("slot", o.slot)),
		metrics: o.metrics,
		pcfg:    pcfg,
	}
	empty := patch.New()
	empty.Slot = o.slot
	e.snapshot.Store(empty)
	e.metrics.SetConnectionState(int(Disconnected))
	return e
}

// =============================================================================
// Connection
// =============================================================================

// Open opens the transport, starts a session and enables device
// communication. The connection outlives ctx; ctx bounds only the
// handshake.
func (e *Engine) Open(ctx context.Context, cfg transport.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.conn.Load(); c != nil && !c.finished() {
		return pkg.ErrAlreadyRunning
	}

	e.setState(Connecting)
	if err := e.tr.Open(ctx, cfg); err != nil {
		e.setState(Disconnected)
		return fmt.Errorf("open transport: %w", err)
	}

	c := e.start(ctx)
	if err := e.handshake(ctx, c); err != nil {
		c.cancel()
		<-c.done
		return err
	}

	e.stateMu.Lock()
	live := !c.finished()
	if live {
		e.conn.Store(c)
		e.setStateLocked(Connected)
	}
	e.stateMu.Unlock()
	if !live {
		return pkg.ErrConnectionLost
	}
	return nil
}

// start runs the session loop and the worker for a new connection.
func (e *Engine) start(ctx context.Context) *conn {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		queue:  newQueue(),
		cancel: cancel,
		done:   make(chan struct{}),
		acked:  make(map[paramKey]uint64),
	}
	pcfg := e.pcfg
	pcfg.OnEvent = func(ev protocol.Event) { e.queueEvent(c, ev) }
	c.session = protocol.NewSession(e.tr, pcfg)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.session.Run(gctx) })
	g.Go(func() error { return e.work(gctx, c) })

	go func() {
		err := g.Wait()
		cancel()
		e.teardown(c, err)
	}()
	return c
}

func (e *Engine) handshake(ctx context.Context, c *conn) error {
	version, err := c.session.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := c.session.SetCommunication(ctx, true); err != nil {
		return fmt.Errorf("start communication: %w", err)
	}
	e.log.Info("connected", zap.Uint8("version", version))
	return nil
}

// teardown fails the queued jobs of a finished connection and releases the
// transport.
func (e *Engine) teardown(c *conn, err error) {
	lost := connectionLost(err)
	if n := c.queue.len(); n > 0 {
		e.log.Debug("failing queued jobs", zap.Int("count", n))
	}
	c.queue.close(lost)

	if cerr := e.tr.Close(); cerr != nil {
		e.log.Debug("closing transport", zap.Error(cerr))
	}
	if errors.Is(err, context.Canceled) {
		e.log.Info("disconnected")
	} else {
		e.log.Warn("connection lost", zap.Error(err))
	}
	e.stateMu.Lock()
	e.setStateLocked(Disconnected)
	close(c.done)
	e.stateMu.Unlock()
}

func connectionLost(err error) error {
	if errors.Is(err, pkg.ErrConnectionLost) {
		return err
	}
	return fmt.Errorf("%w: %w", pkg.ErrConnectionLost, err)
}

// Close disables device communication and ends the connection. It waits
// for the worker to stop. Queued operations fail with
// pkg.ErrConnectionLost.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conn.Swap(nil)
	if c == nil || c.finished() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopCommTimeout)
	if err := c.session.SetCommunication(ctx, false); err != nil {
		e.log.Debug("stop communication", zap.Error(err))
	}
	cancel()

	c.cancel()
	<-c.done
	return nil
}

// current returns the live connection, or nil.
func (e *Engine) current() *conn {
	c := e.conn.Load()
	if c == nil || c.finished() {
		return nil
	}
	return c
}

// ConnectionState returns the link status.
func (e *Engine) ConnectionState() ConnectionState {
	return ConnectionState(e.state.Load())
}

// OnConnectionState registers fn for connection state transitions. The
// returned function unregisters it. fn must not call Open or Close.
func (e *Engine) OnConnectionState(fn func(ConnectionState)) (cancel func()) {
	return e.states.add(fn)
}

// OnParameterChanged registers fn for parameter values that reach the
// graph, from acknowledged host edits and from the device. fn runs on the
// engine worker and should return quickly.
func (e *Engine) OnParameterChanged(fn func(ParameterChange)) (cancel func()) {
	return e.params.add(fn)
}

func (e *Engine) setState(s ConnectionState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.setStateLocked(s)
}

func (e *Engine) setStateLocked(s ConnectionState) {
	if ConnectionState(e.state.Swap(int32(s))) == s {
		return
	}
	e.metrics.SetConnectionState(int(s))
	e.log.Debug("connection state", zap.Stringer("state", s))
	e.states.notify(s)
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot returns a copy of the last published patch.
func (e *Engine) Snapshot() *patch.Patch {
	return e.snapshot.Load().Clone()
}

// edit returns a private copy of the published patch for the worker to
// modify and publish.
func (e *Engine) edit() *patch.Patch {
	return e.snapshot.Load().Clone()
}

func (e *Engine) publish(p *patch.Patch) {
	e.snapshot.Store(p)
}

// =============================================================================
// Worker
// =============================================================================

// work executes queued jobs until ctx is done.
func (e *Engine) work(ctx context.Context, c *conn) error {
	e.log.Debug("worker started")
	defer e.log.Debug("worker stopped")
	for {
		j, ok := c.queue.pop(ctx)
		if !ok {
			return nil
		}
		if !j.claim() {
			continue // cancelled while queued
		}
		select {
		case <-c.session.Done():
			// The session may stop before ctx is cancelled.
			if j.fail != nil {
				j.fail(connectionLost(c.session.Err()))
			}
			continue
		default:
		}
		jctx := j.ctx
		if jctx == nil {
			jctx = ctx
		}
		if err := jctx.Err(); err != nil {
			j.fail(fmt.Errorf("%w: %w", pkg.ErrCancelled, err))
			continue
		}
		j.run(jctx)
	}
}

// submit queues fn on the live connection and returns its future. A context
// cancelled before the job starts fails the future right away.
func submit[T any](e *Engine, ctx context.Context, name string, fn func(context.Context, *conn) (T, error)) *Future[T] {
	c := e.current()
	if c == nil {
		return failed[T](pkg.ErrNotConnected)
	}
	f := newFuture[T]()
	var zero T
	j := &job{
		name: name,
		ctx:  ctx,
		run:  func(ctx context.Context) { f.resolve(fn(ctx, c)) },
		fail: func(err error) { f.resolve(zero, err) },
	}
	if err := c.queue.push(j); err != nil {
		f.resolve(zero, err)
		return f
	}
	stop := context.AfterFunc(ctx, func() {
		if j.claim() {
			f.resolve(zero, fmt.Errorf("%w: %w", pkg.ErrCancelled, ctx.Err()))
		}
	})
	go func() {
		<-f.done
		stop()
	}()
	return f
}

// queueEvent is called on the session I/O goroutine.
func (e *Engine) queueEvent(c *conn, ev protocol.Event) {
	err := c.queue.push(&job{
		name: "event",
		run:  func(context.Context) { e.applyEvent(c, ev) },
	})
	if err != nil {
		e.log.Debug("dropping event after disconnect", zap.Stringer("channel", ev.Channel))
	}
}
