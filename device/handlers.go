package device

import (
	"errors"

	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
	"go.uber.org/zap"
)

// handle answers one host command.
func (s *Synth) handle(payload []byte) {
	h, body, err := protocol.ParseCommand(payload)
	if err != nil {
		s.log.Warn("dropping command", zap.Error(err))
		return
	}
	if h.Channel >= protocol.NumChannels {
		s.log.Warn("dropping command on unknown channel", zap.Uint8("channel", uint8(h.Channel)))
		return
	}
	op, known := s.table.Command(h.Code)

	s.mu.Lock()
	if known {
		s.received[op]++
	}
	last := s.last[h.Channel]
	if last.valid && last.header == h {
		s.mu.Unlock()
		s.log.Debug("answering retransmission from cache",
			zap.String("op", s.table.Name(op)),
			zap.Uint8("seq", h.Seq))
		s.respond(op, last.payload)
		return
	}

	status, resp := pkg.StatusUnknownOp, []byte(nil)
	if forced, ok := s.faults.reject[op]; known && ok {
		status = forced
	} else if canned, ok := s.faults.replace[op]; known && ok {
		status, resp = pkg.StatusOK, canned
	} else if known {
		status, resp = s.dispatch(op, h.Channel, body)
	}
	out := protocol.AppendResponse(nil, h, status, resp)
	s.last[h.Channel] = cached{valid: true, header: h, op: op, payload: out}
	s.mu.Unlock()

	s.log.Debug("command handled",
		zap.Stringer("channel", h.Channel),
		zap.String("op", s.table.Name(op)),
		zap.Uint8("seq", h.Seq),
		zap.Stringer("status", status))
	s.respond(op, out)
}

// respond sends a response payload, applying injected faults.
func (s *Synth) respond(op protocol.Op, payload []byte) {
	frames, err := s.enc.Encode(frame.KindResponse, payload)
	if err != nil {
		s.log.Error("cannot encode response", zap.Error(err))
		return
	}

	s.mu.Lock()
	drop := take(s.faults.drop, op)
	corrupt := s.faults.corrupt > 0
	if corrupt {
		s.faults.corrupt--
	}
	unplug := false
	if n, ok := s.faults.unplug[op]; ok && n > 0 {
		s.faults.unplug[op] = n - 1
		unplug = n == 1
	}
	s.mu.Unlock()

	if drop {
		s.log.Debug("dropping response", zap.String("op", s.table.Name(op)))
		return
	}
	if corrupt {
		f := frames[0]
		f[len(f)-1] ^= 0xff
	}
	for _, f := range frames {
		if err := s.end.Write(f); err != nil {
			s.log.Debug("response not delivered", zap.Error(err))
			return
		}
	}
	if unplug {
		s.log.Debug("unplugging", zap.String("after", s.table.Name(op)))
		s.end.Unplug()
	}
}

// dispatch executes a command. Called with s.mu held.
func (s *Synth) dispatch(op protocol.Op, ch protocol.Channel, body []byte) (pkg.Status, []byte) {
	switch op {
	case protocol.OpHello:
		return pkg.StatusOK, protocol.EncodeVersion(s.version)

	case protocol.OpComm:
		on, err := protocol.DecodeFlag(body)
		if err != nil {
			return pkg.StatusBadArgument, nil
		}
		s.comm = on
		return pkg.StatusOK, nil
	}

	slot, ok := ch.Slot()
	if !ok {
		return pkg.StatusBadArgument, nil
	}
	p := s.slots[slot]

	switch op {
	case protocol.OpPatchInfo:
		return reply(protocol.EncodePatchInfo(protocol.PatchInfo{
			Version:   p.Version,
			Variation: p.Variation,
			Name:      p.Name,
		}))

	case protocol.OpModules:
		return reply(protocol.EncodeModules(p.Modules()))

	case protocol.OpParams:
		id, err := protocol.DecodeParamsRequest(body)
		if err != nil {
			return pkg.StatusBadArgument, nil
		}
		m := p.Module(id)
		if m == nil {
			return pkg.StatusNoModule, nil
		}
		return reply(protocol.EncodeParams(m))

	case protocol.OpCables:
		return reply(protocol.EncodeCables(p.Cables()))

	case protocol.OpSetParam:
		v, err := protocol.DecodeParamValue(body)
		if err != nil {
			return pkg.StatusBadArgument, nil
		}
		ack := v.Value
		if s.faults.ack != nil {
			ack = s.faults.ack(v)
		}
		if err := p.SetParam(v.Module, v.Param, ack, false); err != nil {
			return statusOf(err), nil
		}
		return reply(protocol.EncodeValue(ack))

	case protocol.OpBeginUpload:
		variation, name, err := protocol.DecodeBeginUpload(body)
		if err != nil || variation >= patch.MaxVariations {
			return pkg.StatusBadArgument, nil
		}
		st := patch.New()
		st.Name = name
		st.Variation = variation
		st.Slot = slot
		s.staging[slot] = st
		return pkg.StatusOK, nil

	case protocol.OpAddModule:
		st := s.staging[slot]
		if st == nil {
			return pkg.StatusBusy, nil
		}
		m, err := protocol.DecodeAddModule(body, s.catalog)
		if err != nil {
			return pkg.StatusBadArgument, nil
		}
		if err := st.AddModule(m); err != nil {
			return statusOf(err), nil
		}
		return pkg.StatusOK, nil

	case protocol.OpAddCable:
		st := s.staging[slot]
		if st == nil {
			return pkg.StatusBusy, nil
		}
		c, err := protocol.DecodeCable(body)
		if err != nil {
			return pkg.StatusBadArgument, nil
		}
		if err := st.Connect(c); err != nil {
			return statusOf(err), nil
		}
		return pkg.StatusOK, nil

	case protocol.OpEndUpload:
		st := s.staging[slot]
		if st == nil {
			return pkg.StatusBusy, nil
		}
		if err := st.Validate(); err != nil {
			return statusOf(err), nil
		}
		st.Version = p.Version + 1
		s.slots[slot] = st
		s.staging[slot] = nil
		return pkg.StatusOK, protocol.EncodeVersion(st.Version)
	}

	return pkg.StatusUnknownOp, nil
}

func reply(body []byte, err error) (pkg.Status, []byte) {
	if err != nil {
		return pkg.StatusBadArgument, nil
	}
	return pkg.StatusOK, body
}

// statusOf maps a patch error to the status the hardware reports.
func statusOf(err error) pkg.Status {
	switch {
	case errors.Is(err, patch.ErrUnknownModule):
		return pkg.StatusNoModule
	case errors.Is(err, patch.ErrUnknownPort):
		return pkg.StatusNoPort
	default:
		return pkg.StatusBadArgument
	}
}
