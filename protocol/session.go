package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/pkg/metrics"
	"github.com/ardnew/g2link/transport"
	"go.uber.org/zap"
)

var errStopped = errors.New("session stopped")

// Phase is the request state of one channel.
type Phase uint8

// Channel phases.
const (
	Disconnected Phase = iota
	Idle
	AwaitingResponse
)

// String returns a string representation of the phase.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting response"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// State is the observable state of one channel. Seq is valid while
// AwaitingResponse.
type State struct {
	Phase Phase
	Seq   uint8
}

type result struct {
	resp Response
	err  error
}

type submission struct {
	ctx   context.Context
	req   Request
	info  OpInfo
	reply chan result // buffered; receives exactly one result once accepted
}

// pending is a command awaiting its response. Owned by the I/O goroutine.
type pending struct {
	sub         *submission
	seq         uint8
	msg         frame.Message
	frames      [][]byte
	retransmits int
	sent        time.Time
	deadline    time.Time
}

// Session runs the protocol over one transport. A session is single-use:
// once [Session.Run] returns, every request fails with pkg.ErrNotConnected.
type Session struct {
	tr  transport.Transport
	cfg Config
	log *zap.Logger
	enc *frame.Encoder
	fo  frame.Options

	gates   [NumChannels]gate
	submit  chan *submission
	cancel  chan *submission
	done    chan struct{}
	started atomic.Bool

	mu     sync.Mutex
	states [NumChannels]State
	err    error

	// Owned by the I/O goroutine.
	pending [NumChannels]*pending
	seq     uint8
	recv    uint64
	timer   *time.Timer
}

// NewSession creates a session over an opened transport.
func NewSession(tr transport.Transport, cfg Config) *Session {
	cfg = cfg.withDefaults()

	fo := cfg.Frame
	onEvict := fo.OnEvict
	fo.OnEvict = func(id uint16, age time.Duration) {
		cfg.Metrics.Evicted(1)
		if onEvict != nil {
			onEvict(id, age)
		}
	}

	return &Session{
		tr:     tr,
		cfg:    cfg,
		log:    cfg.Logger,
		enc:    frame.NewEncoder(fo),
		fo:     fo,
		submit: make(chan *submission),
		cancel: make(chan *submission),
		done:   make(chan struct{}),
	}
}

// Table returns the session's opcode table.
func (s *Session) Table() *Table {
	return s.cfg.Table
}

// =============================================================================
// Caller API
// =============================================================================

// Do sends a command and waits for its response. Requests on the same
// channel are sent one at a time in arrival order.
//
// A response with a non-OK status is returned together with an error
// wrapping pkg.ErrRejected.
func (s *Session) Do(ctx context.Context, req Request) (Response, error) {
	info, ok := s.cfg.Table.Info(req.Op)
	if !ok || info.Event {
		return Response{}, fmt.Errorf("%w: %s is not a command", pkg.ErrInvalidParameter, s.cfg.Table.Name(req.Op))
	}
	if req.Channel >= NumChannels {
		return Response{}, fmt.Errorf("%w: %s", pkg.ErrInvalidParameter, req.Channel)
	}
	select {
	case <-s.done:
		return Response{}, s.notConnected()
	default:
	}

	g := &s.gates[req.Channel]
	if err := g.acquire(ctx, s.done); err != nil {
		if errors.Is(err, errStopped) {
			return Response{}, s.notConnected()
		}
		return Response{}, cancelled(err)
	}
	defer g.release()

	sub := &submission{ctx: ctx, req: req, info: info, reply: make(chan result, 1)}
	select {
	case s.submit <- sub:
	case <-s.done:
		return Response{}, s.notConnected()
	case <-ctx.Done():
		return Response{}, cancelled(ctx.Err())
	}

	select {
	case r := <-sub.reply:
		return r.resp, r.err
	case <-ctx.Done():
		select {
		case s.cancel <- sub:
		case r := <-sub.reply:
			return r.resp, r.err
		case <-s.done:
		}
		return Response{}, cancelled(ctx.Err())
	}
}

// Handshake exchanges protocol versions with the device and returns the
// device's version. A different version fails with pkg.ErrVersionMismatch.
func (s *Session) Handshake(ctx context.Context) (uint8, error) {
	want := s.cfg.Table.Version()
	resp, err := s.Do(ctx, Request{Channel: System, Op: OpHello, Body: EncodeVersion(want)})
	if err != nil {
		return 0, err
	}
	got, err := DecodeVersion(resp.Body)
	if err != nil {
		return 0, err
	}
	if got != want {
		return got, fmt.Errorf("%w: device speaks version %d, host %d", pkg.ErrVersionMismatch, got, want)
	}
	return got, nil
}

// SetCommunication starts or stops the device's unsolicited messages.
func (s *Session) SetCommunication(ctx context.Context, on bool) error {
	_, err := s.Do(ctx, Request{Channel: System, Op: OpComm, Body: EncodeFlag(on)})
	return err
}

// State returns the state of a channel.
func (s *Session) State(ch Channel) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch >= NumChannels {
		return State{Phase: Disconnected}
	}
	return s.states[ch]
}

// Connected reports whether the I/O goroutine is running.
func (s *Session) Connected() bool {
	if !s.started.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason Run stopped.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) notConnected() error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrNotConnected, err)
	}
	return pkg.ErrNotConnected
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", pkg.ErrCancelled, err)
}

// =============================================================================
// I/O goroutine
// =============================================================================

// Run is the session's I/O loop. It returns when ctx is done or the
// transport fails; a transport failure is reported as pkg.ErrConnectionLost
// wrapping the cause. Pending requests fail with pkg.ErrConnectionLost.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	err := s.loop(ctx)
	s.stop(err)
	return err
}

func (s *Session) loop(ctx context.Context) error {
	framer := frame.NewFramer(s.fo)
	inbound := s.tr.Inbound()

	s.timer = time.NewTimer(time.Hour)
	s.timer.Stop()
	defer s.timer.Stop()

	s.mu.Lock()
	for ch := range s.states {
		s.states[ch] = State{Phase: Idle}
	}
	s.mu.Unlock()
	s.log.Debug("session running", zap.Uint8("version", s.cfg.Table.Version()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sub := <-s.submit:
			if err := s.start(ctx, sub); err != nil {
				return err
			}

		case sub := <-s.cancel:
			s.drop(sub)

		case buf, ok := <-inbound:
			if !ok {
				cause := s.tr.Err()
				if cause == nil {
					cause = pkg.ErrDeviceDisconnected
				}
				return fmt.Errorf("%w: %w", pkg.ErrConnectionLost, cause)
			}
			if err := s.receive(ctx, framer, buf); err != nil {
				return err
			}

		case <-s.timer.C:
			s.expire()
		}
	}
}

// stop fails every pending request and marks the session disconnected.
func (s *Session) stop(err error) {
	lost := err
	if !errors.Is(lost, pkg.ErrConnectionLost) {
		lost = fmt.Errorf("%w: %w", pkg.ErrConnectionLost, err)
	}
	for ch := range s.pending {
		if s.pending[ch] != nil {
			s.complete(Channel(ch), result{err: lost})
		}
	}

	s.mu.Lock()
	s.err = err
	for ch := range s.states {
		s.states[ch] = State{Phase: Disconnected}
	}
	s.mu.Unlock()
	close(s.done)

	if errors.Is(err, context.Canceled) {
		s.log.Debug("session stopped", zap.Error(err))
	} else {
		s.log.Warn("session stopped", zap.Error(err))
	}
}

// start sends a submitted command and records it as pending. It returns an
// error only when the transport is gone.
func (s *Session) start(ctx context.Context, sub *submission) error {
	ch := sub.req.Channel
	if err := sub.ctx.Err(); err != nil {
		sub.reply <- result{err: cancelled(err)}
		return nil
	}
	if s.pending[ch] != nil {
		sub.reply <- result{err: fmt.Errorf("%w: %s busy", pkg.ErrAlreadyRunning, ch)}
		return nil
	}

	s.seq++
	h := Header{Channel: ch, Code: sub.info.Code, Seq: s.seq}
	payload := AppendCommand(nil, h, sub.req.Body)
	frames, err := s.enc.Encode(frame.KindCommand, payload)
	if err != nil {
		sub.reply <- result{err: fmt.Errorf("%s: %w", sub.info.Name, err)}
		return nil
	}

	now := time.Now()
	p := &pending{
		sub:      sub,
		seq:      h.Seq,
		msg:      frame.Message{Kind: frame.KindCommand, Payload: payload},
		frames:   frames,
		sent:     now,
		deadline: now.Add(s.cfg.timeout(sub.info.Timeout)),
	}
	s.pending[ch] = p

	if err := s.write(ctx, p); err != nil {
		if errors.Is(err, pkg.ErrDeviceDisconnected) {
			return fmt.Errorf("%w: %w", pkg.ErrConnectionLost, err)
		}
		s.complete(ch, result{err: fmt.Errorf("%s: %w", sub.info.Name, err)})
		return nil
	}

	s.setState(ch, State{Phase: AwaitingResponse, Seq: h.Seq})
	s.arm()
	s.log.Debug("command sent",
		zap.Stringer("channel", ch),
		zap.String("op", sub.info.Name),
		zap.Uint8("seq", h.Seq),
		zap.Int("frames", len(frames)))
	return nil
}

// write sends every frame of a pending command.
func (s *Session) write(ctx context.Context, p *pending) error {
	if s.cfg.Observer != nil {
		s.cfg.Observer.Observe(Outbound, p.msg)
	}
	for _, f := range p.frames {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.tr.Send(wctx, f)
		cancel()
		if err != nil {
			if !errors.Is(err, pkg.ErrIO) && !errors.Is(err, pkg.ErrNotConnected) {
				err = fmt.Errorf("%w: %w", pkg.ErrIO, err)
			}
			return err
		}
		s.cfg.Metrics.Frame(metrics.DirectionOut, p.msg.Kind.String())
	}
	return nil
}

// receive decodes one inbound buffer.
func (s *Session) receive(ctx context.Context, framer *frame.Framer, buf []byte) error {
	for msg, err := range framer.Feed(buf) {
		if err != nil {
			s.cfg.Metrics.FramingError()
			s.log.Debug("framing error", zap.Error(err))
			if !mayBeResponse(err) {
				continue
			}
			if err := s.retransmit(ctx, err); err != nil {
				return err
			}
			continue
		}

		s.cfg.Metrics.Frame(metrics.DirectionIn, msg.Kind.String())
		if s.cfg.Observer != nil {
			s.cfg.Observer.Observe(Inbound, msg)
		}

		s.recv++
		switch msg.Kind {
		case frame.KindResponse:
			s.response(msg.Payload)
		case frame.KindEvent:
			s.event(msg.Payload)
		default:
			s.log.Warn("dropping unexpected message", zap.Stringer("kind", msg.Kind))
		}
	}
	return nil
}

// mayBeResponse reports whether a framing error could have destroyed a
// response. Damaged events and commands leave pending requests alone.
func mayBeResponse(err error) bool {
	var ferr *frame.Error
	if !errors.As(err, &ferr) || !ferr.Kind.Valid() {
		return true
	}
	return ferr.Kind == frame.KindResponse
}

// retransmit resends every pending command once after a framing error.
// Commands already retransmitted fail with cause.
func (s *Session) retransmit(ctx context.Context, cause error) error {
	now := time.Now()
	for i, p := range s.pending {
		if p == nil {
			continue
		}
		ch := Channel(i)
		if p.retransmits >= s.cfg.MaxRetransmits {
			s.log.Warn("request failed after retransmission",
				zap.Stringer("channel", ch),
				zap.String("op", p.sub.info.Name),
				zap.Uint8("seq", p.seq))
			s.complete(ch, result{err: fmt.Errorf("%s: %w", p.sub.info.Name, cause)})
			continue
		}

		p.retransmits++
		p.deadline = now.Add(s.cfg.timeout(p.sub.info.Timeout))
		s.cfg.Metrics.Retransmission()
		s.log.Debug("retransmitting",
			zap.Stringer("channel", ch),
			zap.String("op", p.sub.info.Name),
			zap.Uint8("seq", p.seq))

		if err := s.write(ctx, p); err != nil {
			if errors.Is(err, pkg.ErrDeviceDisconnected) {
				return fmt.Errorf("%w: %w", pkg.ErrConnectionLost, err)
			}
			s.complete(ch, result{err: fmt.Errorf("%s: %w", p.sub.info.Name, err)})
		}
	}
	s.arm()
	return nil
}

// response completes the pending request a response belongs to.
func (s *Session) response(payload []byte) {
	h, status, body, err := ParseResponse(payload)
	if err != nil {
		s.log.Warn("dropping response", zap.Error(err))
		return
	}
	if h.Channel >= NumChannels {
		s.log.Warn("dropping response on unknown channel", zap.Uint8("channel", uint8(h.Channel)))
		return
	}

	p := s.pending[h.Channel]
	if p == nil || p.seq != h.Seq || p.sub.info.Code != h.Code {
		fields := []zap.Field{
			zap.Stringer("channel", h.Channel),
			zap.Uint8("opcode", uint8(h.Code)),
			zap.Uint8("seq", h.Seq),
		}
		if p != nil {
			fields = append(fields, zap.Uint8("want_seq", p.seq), zap.Uint8("want_opcode", uint8(p.sub.info.Code)))
		}
		s.log.Warn("dropping unmatched response", fields...)
		return
	}

	resp := Response{
		Channel: h.Channel,
		Op:      p.sub.req.Op,
		Seq:     h.Seq,
		Status:  status,
		Body:    body,
		Order:   s.recv,
	}
	var rerr error
	if serr := status.Error(); serr != nil {
		rerr = fmt.Errorf("%s: %w", p.sub.info.Name, serr)
	}
	s.cfg.Metrics.Observe(p.sub.info.Name, time.Since(p.sent))
	s.complete(h.Channel, result{resp: resp, err: rerr})
	s.arm()
}

// event delivers an unsolicited message.
func (s *Session) event(payload []byte) {
	ch, code, body, err := ParseEvent(payload)
	if err != nil {
		s.log.Warn("dropping event", zap.Error(err))
		return
	}
	op, ok := s.cfg.Table.Event(code)
	if !ok {
		s.log.Warn("dropping unknown event", zap.Uint8("opcode", uint8(code)))
		return
	}
	name := s.cfg.Table.Name(op)
	s.cfg.Metrics.Event(name)
	if s.cfg.OnEvent == nil {
		return
	}
	s.cfg.OnEvent(Event{Channel: ch, Op: op, Code: code, Body: body, Order: s.recv})
}

// expire fails requests past their deadline.
func (s *Session) expire() {
	now := time.Now()
	for i, p := range s.pending {
		if p == nil || now.Before(p.deadline) {
			continue
		}
		ch := Channel(i)
		s.cfg.Metrics.Timeout(p.sub.info.Name)
		s.log.Warn("request timed out",
			zap.Stringer("channel", ch),
			zap.String("op", p.sub.info.Name),
			zap.Uint8("seq", p.seq))
		s.complete(ch, result{err: fmt.Errorf("%s: %w", p.sub.info.Name, pkg.ErrTimeout)})
	}
	s.arm()
}

// drop forgets a request whose caller gave up.
func (s *Session) drop(sub *submission) {
	for i, p := range s.pending {
		if p == nil || p.sub != sub {
			continue
		}
		s.pending[i] = nil
		s.setState(Channel(i), State{Phase: Idle})
		s.log.Debug("request cancelled", zap.String("op", p.sub.info.Name), zap.Uint8("seq", p.seq))
	}
	s.arm()
}

// complete delivers r and frees the channel.
func (s *Session) complete(ch Channel, r result) {
	p := s.pending[ch]
	s.pending[ch] = nil
	s.setState(ch, State{Phase: Idle})
	p.sub.reply <- r
}

// arm schedules the timer for the earliest pending deadline.
func (s *Session) arm() {
	var next time.Time
	for _, p := range s.pending {
		if p != nil && (next.IsZero() || p.deadline.Before(next)) {
			next = p.deadline
		}
	}
	if next.IsZero() {
		s.timer.Stop()
		return
	}
	s.timer.Reset(time.Until(next))
}

func (s *Session) setState(ch Channel, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[ch] = st
}
