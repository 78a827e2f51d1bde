package frame

import (
	"encoding/binary"
	"iter"
	"time"

	"go.uber.org/zap"
)

// transfer is one in-progress chunked message.
type transfer struct {
	kind    Kind
	count   int
	chunks  [][]byte
	have    int
	started time.Time
}

// Framer decodes a byte stream into messages.
type Framer struct {
	opts      Options
	buf       []byte
	transfers map[uint16]*transfer
}

// NewFramer creates a framer with an empty stream buffer.
func NewFramer(opts Options) *Framer {
	return &Framer{
		opts:      opts.withDefaults(),
		transfers: make(map[uint16]*transfer),
	}
}

// Feed appends data to the stream and returns an iterator over the
// messages that became complete. Framing failures are yielded as errors
// wrapping pkg.ErrFraming; decoding continues with the next frame.
//
// Bytes not consumed by a partial iteration stay buffered for the next Feed.
func (f *Framer) Feed(data []byte) iter.Seq2[Message, error] {
	f.buf = append(f.buf, data...)
	return func(yield func(Message, error) bool) {
		f.evict()
		for {
			msg, ok, err := f.next()
			if err != nil {
				if !yield(Message{}, err) {
					return
				}
				continue
			}
			if !ok {
				return
			}
			if msg == nil {
				// Chunk stored, message still incomplete.
				continue
			}
			if !yield(*msg, nil) {
				return
			}
		}
	}
}

// Pending returns the number of incomplete chunked transfers.
func (f *Framer) Pending() int {
	return len(f.transfers)
}

// Buffered returns the number of stream bytes not yet decoded.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset drops the stream buffer and every incomplete transfer.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	clear(f.transfers)
}

// next decodes one frame. It returns ok=false when the buffer holds no
// complete frame. A stored chunk that does not complete a message returns
// ok=true with a nil message.
func (f *Framer) next() (*Message, bool, error) {
	if len(f.buf) < HeaderSize {
		return nil, false, nil
	}

	kind := Kind(f.buf[0])
	length := int(binary.BigEndian.Uint16(f.buf[1:]))
	switch {
	case !kind.Valid():
		f.resync()
		return nil, false, frameError("unknown kind 0x%02x", uint8(kind))
	case length > f.opts.MaxPayload:
		f.resync()
		return nil, false, frameError("length %d exceeds %d", length, f.opts.MaxPayload)
	case kind.IsChunk() && length <= ChunkHeaderSize:
		f.resync()
		return nil, false, frameError("chunk length %d too short", length)
	}

	n := f.opts.Checksum.Size()
	total := HeaderSize + length + n
	if len(f.buf) < total {
		return nil, false, nil
	}

	payload := f.buf[HeaderSize : HeaderSize+length]
	want := mask(f.opts.Checksum.Sum(payload), n)
	got := getSum(f.buf[HeaderSize+length:], n)
	if want != got {
		f.consume(total)
		return nil, true, kindError(kind, "checksum 0x%x, want 0x%x", got, want)
	}

	payload = append(make([]byte, 0, length), payload...)
	f.consume(total)

	if !kind.IsChunk() {
		return &Message{Kind: kind, Payload: payload}, true, nil
	}
	return f.chunk(kind.Class(), payload)
}

// chunk stores one chunk and returns the message once all are present.
func (f *Framer) chunk(kind Kind, payload []byte) (*Message, bool, error) {
	id := binary.BigEndian.Uint16(payload)
	index := int(payload[2])
	count := int(payload[3])
	data := payload[ChunkHeaderSize:]

	if count == 0 || index >= count {
		delete(f.transfers, id)
		return nil, true, kindError(kind, "chunk %d of %d in transfer %d", index, count, id)
	}

	t, ok := f.transfers[id]
	if !ok {
		t = &transfer{
			kind:    kind,
			count:   count,
			chunks:  make([][]byte, count),
			started: f.opts.Now(),
		}
		f.transfers[id] = t
	}
	if t.count != count || t.kind != kind {
		delete(f.transfers, id)
		return nil, true, kindError(kind, "transfer %d: conflicting count %d, was %d", id, count, t.count)
	}

	if t.chunks[index] == nil {
		t.have++
	}
	t.chunks[index] = data
	if t.have < t.count {
		return nil, true, nil
	}

	delete(f.transfers, id)
	size := 0
	for _, c := range t.chunks {
		size += len(c)
	}
	msg := make([]byte, 0, size)
	for _, c := range t.chunks {
		msg = append(msg, c...)
	}
	return &Message{Kind: kind, Payload: msg}, true, nil
}

// evict drops transfers older than MaxAge.
func (f *Framer) evict() {
	now := f.opts.Now()
	for id, t := range f.transfers {
		age := now.Sub(t.started)
		if age <= f.opts.MaxAge {
			continue
		}
		delete(f.transfers, id)
		f.opts.Logger.Debug("evicted incomplete transfer",
			zap.Uint16("transfer", id),
			zap.Int("have", t.have),
			zap.Int("count", t.count),
			zap.Duration("age", age))
		if f.opts.OnEvict != nil {
			f.opts.OnEvict(id, age)
		}
	}
}

// resync discards the stream buffer after an unrecoverable header.
func (f *Framer) resync() {
	f.opts.Logger.Debug("discarding stream buffer", zap.Int("bytes", len(f.buf)))
	f.buf = f.buf[:0]
}

func (f *Framer) consume(n int) {
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
}
