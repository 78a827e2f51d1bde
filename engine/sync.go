package engine

import (
	"context"
	"fmt"

	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
	"go.uber.org/zap"
)

// LoadPatchFromDevice downloads the slot's patch and publishes it. On any
// failure the previous snapshot is kept.
func (e *Engine) LoadPatchFromDevice(ctx context.Context) *Future[*patch.Patch] {
	return submit(e, ctx, "download", e.download)
}

// SavePatchToDevice uploads p to the slot. The future yields the patch
// version the device assigned. p is copied before the call returns.
func (e *Engine) SavePatchToDevice(ctx context.Context, p *patch.Patch) *Future[uint8] {
	if p == nil {
		return failed[uint8](fmt.Errorf("%w: nil patch", pkg.ErrInvalidParameter))
	}
	up := p.Clone()
	up.Slot = e.slot
	return submit(e, ctx, "upload", func(ctx context.Context, c *conn) (uint8, error) {
		return e.upload(ctx, c, up)
	})
}

// SetParameter changes a parameter on the host graph and the device. The
// future yields the value the device acknowledged, which replaces the local
// value. Edits to the same parameter are applied in call order.
func (e *Engine) SetParameter(ctx context.Context, module patch.ModuleID, param uint8, value int) *Future[int] {
	if e.current() == nil {
		return failed[int](pkg.ErrNotConnected)
	}
	if err := checkParam(e.snapshot.Load(), module, param, value); err != nil {
		return failed[int](err)
	}
	return submit(e, ctx, "set_param", func(ctx context.Context, c *conn) (int, error) {
		return e.setParameter(ctx, c, module, param, value)
	})
}

func checkParam(p *patch.Patch, module patch.ModuleID, param uint8, value int) error {
	prm, err := p.Param(module, param)
	if err != nil {
		return err
	}
	if !prm.Range.Contains(value) {
		return fmt.Errorf("%w: %d outside %d..%d", patch.ErrOutOfRange, value, prm.Range.Min, prm.Range.Max)
	}
	return nil
}

// =============================================================================
// Download
// =============================================================================

// request issues one command on the slot channel, checking ctx first.
func (e *Engine) request(ctx context.Context, c *conn, op protocol.Op, body []byte) ([]byte, error) {
	resp, err := e.do(ctx, c, op, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (e *Engine) do(ctx context.Context, c *conn, op protocol.Op, body []byte) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %w", pkg.ErrCancelled, err)
	}
	return c.session.Do(ctx, protocol.Request{Channel: e.channel, Op: op, Body: body})
}

func (e *Engine) download(ctx context.Context, c *conn) (*patch.Patch, error) {
	p, err := e.enumerate(ctx, c)
	if err != nil {
		e.log.Warn("download failed, keeping previous patch", zap.Error(err))
		return nil, fmt.Errorf("download: %w", err)
	}
	e.publish(p)
	e.log.Info("patch downloaded",
		zap.String("name", p.Name),
		zap.Uint8("version", p.Version),
		zap.Int("modules", p.NumModules()))
	return p.Clone(), nil
}

// enumerate assembles the device patch privately.
func (e *Engine) enumerate(ctx context.Context, c *conn) (*patch.Patch, error) {
	body, err := e.request(ctx, c, protocol.OpPatchInfo, nil)
	if err != nil {
		return nil, err
	}
	info, err := protocol.DecodePatchInfo(body)
	if err != nil {
		return nil, err
	}
	p := patch.New()
	p.Name = info.Name
	p.Slot = e.slot
	p.Variation = info.Variation
	p.Version = info.Version

	if body, err = e.request(ctx, c, protocol.OpModules, nil); err != nil {
		return nil, err
	}
	mods, err := protocol.DecodeModules(body, e.catalog)
	if err != nil {
		return nil, err
	}

	for _, m := range mods {
		if body, err = e.request(ctx, c, protocol.OpParams, protocol.EncodeParamsRequest(m.ID)); err != nil {
			return nil, err
		}
		ti, _ := e.catalog.Lookup(m.Type)
		id, params, err := protocol.DecodeParams(body, ti)
		if err != nil {
			return nil, err
		}
		if id != m.ID {
			return nil, fmt.Errorf("%w: params for module %d in reply for module %d", pkg.ErrPatchInconsistent, id, m.ID)
		}
		m.Params = params
		if err := p.AddModule(m); err != nil {
			return nil, err
		}
	}

	if body, err = e.request(ctx, c, protocol.OpCables, nil); err != nil {
		return nil, err
	}
	cables, err := protocol.DecodeCables(body)
	if err != nil {
		return nil, err
	}
	for _, cable := range cables {
		if err := p.Connect(cable); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// Upload
// =============================================================================

func (e *Engine) upload(ctx context.Context, c *conn, p *patch.Patch) (uint8, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}
	version, err := e.send(ctx, c, p)
	if err != nil {
		e.log.Warn("upload failed", zap.Error(err))
		return 0, fmt.Errorf("upload: %w", err)
	}

	p.Version = version
	p.MarkClean()
	e.publish(p.Clone())
	e.log.Info("patch uploaded",
		zap.String("name", p.Name),
		zap.Uint8("version", version),
		zap.Int("modules", p.NumModules()))
	return version, nil
}

// send serializes p into the upload command sequence.
func (e *Engine) send(ctx context.Context, c *conn, p *patch.Patch) (uint8, error) {
	body, err := protocol.EncodeBeginUpload(p.Variation, p.Name)
	if err != nil {
		return 0, err
	}
	if _, err := e.request(ctx, c, protocol.OpBeginUpload, body); err != nil {
		return 0, err
	}
	for _, m := range p.Modules() {
		body, err := protocol.EncodeAddModule(m)
		if err != nil {
			return 0, err
		}
		if _, err := e.request(ctx, c, protocol.OpAddModule, body); err != nil {
			return 0, fmt.Errorf("module %d: %w", m.ID, err)
		}
	}
	for _, cable := range p.Cables() {
		if _, err := e.request(ctx, c, protocol.OpAddCable, protocol.EncodeCable(cable)); err != nil {
			return 0, fmt.Errorf("cable %s: %w", cable, err)
		}
	}
	if body, err = e.request(ctx, c, protocol.OpEndUpload, nil); err != nil {
		return 0, err
	}
	return protocol.DecodeVersion(body)
}

// =============================================================================
// Parameters
// =============================================================================

func (e *Engine) setParameter(ctx context.Context, c *conn, module patch.ModuleID, param uint8, value int) (int, error) {
	p := e.edit()
	if err := p.SetParam(module, param, value, true); err != nil {
		return 0, err
	}
	e.publish(p)

	body, err := protocol.EncodeParamValue(protocol.ParamValue{
		Module:    module,
		Param:     param,
		Value:     value,
		Variation: p.Variation,
	})
	if err != nil {
		return 0, err
	}
	resp, err := e.do(ctx, c, protocol.OpSetParam, body)
	if err != nil {
		return 0, fmt.Errorf("set parameter %d/%d: %w", module, param, err)
	}
	ack, err := protocol.DecodeValue(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("set parameter %d/%d: %w", module, param, err)
	}

	p = e.edit()
	if err := p.SetParam(module, param, ack, false); err != nil {
		return 0, fmt.Errorf("set parameter %d/%d ack: %w", module, param, err)
	}
	e.publish(p)
	c.acked[paramKey{module, param}] = resp.Order
	if ack != value {
		e.log.Debug("device adjusted parameter",
			zap.Uint8("module", uint8(module)),
			zap.Uint8("param", param),
			zap.Int("sent", value),
			zap.Int("ack", ack))
	}
	e.params.notify(ParameterChange{Slot: e.slot, Module: module, Param: param, Value: ack, Source: Host})
	return ack, nil
}

// applyEvent runs on the worker for each unsolicited device message.
// Events run after the job that was executing when they arrived, so a
// parameter change received before the acknowledgement of a later edit is
// stale by the time it runs and is dropped.
func (e *Engine) applyEvent(c *conn, ev protocol.Event) {
	if ev.Op != protocol.OpParamChanged {
		e.log.Debug("ignoring event", zap.Stringer("channel", ev.Channel), zap.Uint8("opcode", uint8(ev.Code)))
		return
	}
	if ev.Channel != e.channel {
		return
	}
	v, err := protocol.DecodeParamValue(ev.Body)
	if err != nil {
		e.log.Warn("dropping parameter change", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Uint8("module", uint8(v.Module)),
		zap.Uint8("param", v.Param),
		zap.Int("value", v.Value),
	}
	key := paramKey{v.Module, v.Param}
	if ev.Order < c.acked[key] {
		e.log.Debug("dropping parameter change older than acknowledgement",
			append(fields, zap.Uint64("order", ev.Order), zap.Uint64("acked", c.acked[key]))...)
		return
	}

	if active := e.snapshot.Load().Variation; v.Variation != active {
		e.log.Debug("ignoring parameter change for inactive variation",
			append(fields, zap.Uint8("variation", v.Variation), zap.Uint8("active", active))...)
		return
	}

	p := e.edit()
	if err := p.SetParam(v.Module, v.Param, v.Value, false); err != nil {
		e.log.Warn("dropping parameter change", append(fields, zap.Error(err))...)
		return
	}
	e.publish(p)
	e.params.notify(ParameterChange{Slot: e.slot, Module: v.Module, Param: v.Param, Value: v.Value, Source: Device})
}
