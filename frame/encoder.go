package frame

import (
	"encoding/binary"
	"sync"
)

// Encoder turns messages into frames. It is safe for concurrent use.
type Encoder struct {
	opts Options

	mu   sync.Mutex
	next uint16
}

// NewEncoder creates an encoder.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{opts: opts.withDefaults()}
}

// Encode returns the frames carrying payload, in transmission order.
// Payloads larger than MaxPayload are split into chunks sharing a fresh
// transfer ID.
func (e *Encoder) Encode(kind Kind, payload []byte) ([][]byte, error) {
	kind = kind.Class()
	if !kind.Valid() {
		return nil, frameError("cannot encode %s", kind)
	}
	if len(payload) <= e.opts.MaxPayload {
		return [][]byte{e.frame(kind, payload)}, nil
	}

	per := e.opts.MaxPayload - ChunkHeaderSize
	count := (len(payload) + per - 1) / per
	if count > MaxChunks {
		return nil, frameError("payload of %d bytes needs %d chunks", len(payload), count)
	}

	id := e.transferID()
	frames := make([][]byte, 0, count)
	for i := range count {
		start := i * per
		end := min(start+per, len(payload))

		chunk := make([]byte, ChunkHeaderSize, ChunkHeaderSize+end-start)
		binary.BigEndian.PutUint16(chunk, id)
		chunk[2] = byte(i)
		chunk[3] = byte(count)
		chunk = append(chunk, payload[start:end]...)

		frames = append(frames, e.frame(kind|chunkFlag, chunk))
	}
	return frames, nil
}

func (e *Encoder) transferID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	return e.next
}

func (e *Encoder) frame(kind Kind, payload []byte) []byte {
	n := e.opts.Checksum.Size()
	buf := make([]byte, HeaderSize+len(payload)+n)
	buf[0] = byte(kind)
	binary.BigEndian.PutUint16(buf[1:], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	putSum(buf[HeaderSize+len(payload):], e.opts.Checksum.Sum(payload), n)
	return buf
}
