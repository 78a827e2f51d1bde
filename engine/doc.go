// Package engine keeps a host copy of one slot's patch in sync with the
// device.
//
// An [Engine] owns a [protocol.Session] for each connection and a worker
// goroutine that executes every public operation, and every unsolicited
// device event, in the order it was queued. Operations return a [Future]
// instead of blocking the caller.
//
// # Synchronization
//
// Downloads enumerate patch info, modules, per-module parameters and cables
// into a private patch that is published only after it validates. A failed
// or cancelled download leaves the previous snapshot in place.
//
// Parameter edits are applied to the local graph right away, marked dirty
// and sent to the device. The acknowledged value replaces the local one and
// clears the dirty flag. Device-side changes update the graph directly.
//
// Readers never share memory with the engine: [Engine.Snapshot] returns a
// deep copy of the last published patch.
//
// # Usage
//
//	e := engine.New(tr, engine.WithSlot(patch.SlotA))
//	if err := e.Open(ctx, transport.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	p, err := e.LoadPatchFromDevice(ctx).Wait(ctx)
package engine
