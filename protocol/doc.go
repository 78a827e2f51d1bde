// Package protocol implements the request/response protocol spoken over a
// [transport.Transport].
//
// A [Session] owns one transport. [Session.Run] is the single I/O
// goroutine: it encodes and sends commands, feeds inbound buffers through a
// [frame.Framer], matches responses to pending requests by channel,
// sequence number and opcode, enforces timeouts and retransmits after
// framing errors. Callers use [Session.Do] from any goroutine; requests on
// the same [Channel] are serialized in arrival order.
//
// # Messages
//
// Commands and responses carry a header before the body:
//
//	channel:1 | opcode:1 | seq:1 | body
//
// A response body starts with a [pkg.Status] byte. Events are unsolicited
// and have no sequence number:
//
//	channel:1 | opcode:1 | body
//
// Opcodes are not hard-wired. A [Table] maps each logical [Op] to its wire
// code and timeout class; [Version1] is the table for the stock firmware.
//
// # Usage
//
//	s := protocol.NewSession(tr, protocol.DefaultConfig())
//	go s.Run(ctx)
//	if err := s.Handshake(ctx); err != nil {
//	    return err
//	}
//	resp, err := s.Do(ctx, protocol.Request{Channel: protocol.SlotA, Op: protocol.OpPatchInfo})
package protocol
