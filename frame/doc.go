// Package frame converts between messages and the byte stream carried by
// the USB link.
//
// # Wire Format
//
// Every frame is:
//
//	kind:1 | length:2 (big endian) | payload:length | checksum
//
// The low 7 bits of kind select the message class ([KindCommand],
// [KindResponse], [KindEvent]). When bit 0x80 is set the frame is one chunk
// of a larger message and its payload starts with a chunk header:
//
//	transferID:2 | index:1 | count:1 | data
//
// The checksum covers the payload. Its width depends on the [Checksum] in
// use; [Sum8] (one byte, sum mod 256) is the default.
//
// # Usage
//
//	enc := frame.NewEncoder(frame.Options{})
//	frames, err := enc.Encode(frame.KindCommand, payload)
//
//	f := frame.NewFramer(frame.Options{})
//	for msg, err := range f.Feed(buf) {
//	    if err != nil {
//	        // frame discarded, err wraps pkg.ErrFraming
//	        continue
//	    }
//	    handle(msg)
//	}
//
// A Framer is not safe for concurrent use; it is owned by one reader.
package frame
