package device

import (
	"context"
	"sync"

	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
	"github.com/ardnew/g2link/transport/pipe"
	"go.uber.org/zap"
)

// cached is the last response sent on a channel.
type cached struct {
	valid   bool
	header  protocol.Header
	op      protocol.Op
	payload []byte
}

// Synth is an emulated synthesizer.
type Synth struct {
	end     *pipe.End
	table   *protocol.Table
	catalog patch.Catalog
	version uint8
	fo      frame.Options
	enc     *frame.Encoder
	log     *zap.Logger

	// State
	mu       sync.Mutex
	slots    [patch.NumSlots]*patch.Patch
	staging  [patch.NumSlots]*patch.Patch
	comm     bool
	last     [protocol.NumChannels]cached
	received map[protocol.Op]int
	faults   faults

	// Lifecycle
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a [Synth].
type Option func(*Synth)

// WithVersion sets the protocol version reported by hello.
func WithVersion(v uint8) Option {
	return func(s *Synth) { s.version = v }
}

// WithTable sets the opcode table.
func WithTable(t *protocol.Table) Option {
	return func(s *Synth) { s.table = t }
}

// WithCatalog sets the module catalog used to name decoded modules.
func WithCatalog(c patch.Catalog) Option {
	return func(s *Synth) { s.catalog = c }
}

// WithPatch loads p into a slot.
func WithPatch(slot patch.Slot, p *patch.Patch) Option {
	return func(s *Synth) {
		c := p.Clone()
		c.Slot = slot
		s.slots[slot] = c
	}
}

// WithFrameOptions sets the frame options. They must match the host's.
func WithFrameOptions(o frame.Options) Option {
	return func(s *Synth) { s.fo = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synth) { s.log = l }
}

// New creates a synth serving end. Every slot starts with an empty patch.
func New(end *pipe.End, opts ...Option) *Synth {
	s := &Synth{
		end:      end,
		table:    protocol.Version1Table(),
		catalog:  patch.DefaultCatalog(),
		version:  protocol.Version1,
		log:      pkg.Logger(pkg.ComponentDevice),
		received: make(map[protocol.Op]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.slots {
		if s.slots[i] == nil {
			s.slots[i] = patch.New()
			s.slots[i].Slot = patch.Slot(i)
		}
	}
	s.enc = frame.NewEncoder(s.fo)
	return s
}

// Start starts serving the host. Session state from a previous run is
// forgotten; slot patches are kept.
func (s *Synth) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return pkg.ErrAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.comm = false
	s.last = [protocol.NumChannels]cached{}

	s.wg.Add(1)
	go s.serve(ctx)

	s.log.Debug("synth started")
	return nil
}

// Stop stops serving and waits for the serve loop to exit.
func (s *Synth) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Debug("synth stopped")
	return nil
}

// Patch returns a copy of the patch in a slot.
func (s *Synth) Patch(slot patch.Slot) *patch.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slot].Clone()
}

// SetPatch replaces the patch in a slot.
func (s *Synth) SetPatch(slot patch.Slot, p *patch.Patch) {
	c := p.Clone()
	c.Slot = slot
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot] = c
}

// Received returns how many commands of op arrived, including
// retransmissions.
func (s *Synth) Received(op protocol.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[op]
}

// Communicating reports whether the host enabled unsolicited messages.
func (s *Synth) Communicating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comm
}

// TurnKnob changes a parameter on the device and, if the host enabled
// communication, reports it with a param-changed event.
func (s *Synth) TurnKnob(slot patch.Slot, module patch.ModuleID, param uint8, value int) error {
	s.mu.Lock()
	err := s.slots[slot].SetParam(module, param, value, false)
	comm := s.comm
	variation := s.slots[slot].Variation
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !comm {
		return nil
	}
	return s.sendEvent(protocol.SlotChannel(slot), protocol.OpParamChanged, protocol.ParamValue{
		Module:    module,
		Param:     param,
		Value:     value,
		Variation: variation,
	})
}

// SendRawEvent sends an event with an arbitrary body.
func (s *Synth) SendRawEvent(ch protocol.Channel, op protocol.Op, body []byte) error {
	info, ok := s.table.Info(op)
	if !ok {
		return pkg.ErrInvalidParameter
	}
	return s.writeMessage(frame.KindEvent, protocol.AppendEvent(nil, ch, info.Code, body))
}

func (s *Synth) sendEvent(ch protocol.Channel, op protocol.Op, v protocol.ParamValue) error {
	body, err := protocol.EncodeParamValue(v)
	if err != nil {
		return err
	}
	return s.SendRawEvent(ch, op, body)
}

func (s *Synth) writeMessage(kind frame.Kind, payload []byte) error {
	frames, err := s.enc.Encode(kind, payload)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := s.end.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// serve reads host buffers until ctx is done or the link is unplugged.
func (s *Synth) serve(ctx context.Context) {
	defer s.wg.Done()
	framer := frame.NewFramer(s.fo)

	for {
		buf, err := s.end.Read(ctx)
		if err != nil {
			s.log.Debug("serve loop stopped", zap.Error(err))
			return
		}
		for msg, err := range framer.Feed(buf) {
			if err != nil {
				s.log.Warn("dropping host frame", zap.Error(err))
				continue
			}
			if msg.Kind != frame.KindCommand {
				s.log.Warn("dropping non-command message", zap.Stringer("kind", msg.Kind))
				continue
			}
			s.handle(msg.Payload)
		}
	}
}
