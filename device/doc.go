// Package device emulates the synthesizer's side of the USB protocol.
//
// A [Synth] serves a [pipe.End]: it decodes host commands, applies them to
// one in-memory patch per slot, and answers in the same wire format as the
// hardware, chunking large responses. Unsolicited parameter changes are
// produced with [Synth.TurnKnob].
//
// # Fault Injection
//
// Tests drive error paths through the emulator rather than through mocks:
//
//	synth.CorruptResponses(1)            // next response fails its checksum
//	synth.DropResponses(protocol.OpParams, 1)
//	synth.UnplugAfter(protocol.OpParams, 2)
//	synth.SetAckFunc(func(v protocol.ParamValue) int { return v.Value &^ 3 })
//
// A retransmitted command (same channel, sequence number and opcode) is
// answered from the response cache without being applied again.
//
// # Usage
//
//	host, end := pipe.New()
//	synth := device.New(end, device.WithPatch(patch.SlotA, p))
//	if err := synth.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer synth.Stop()
package device
