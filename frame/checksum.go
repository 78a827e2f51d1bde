package frame

// Checksum computes the frame trailer over a payload.
type Checksum interface {
	// Size returns the trailer width in bytes (1 to 4).
	Size() int

	// Sum returns the checksum; only the low Size bytes are transmitted.
	Sum(payload []byte) uint32
}

// Sum8 is the sum of payload bytes modulo 256.
type Sum8 struct{}

// Size returns 1.
func (Sum8) Size() int { return 1 }

// Sum returns the 8-bit sum.
func (Sum8) Sum(payload []byte) uint32 {
	var s uint8
	for _, b := range payload {
		s += b
	}
	return uint32(s)
}

// CRC16 is CRC-16/XMODEM (polynomial 0x1021, zero initial value), the
// trailer used by the stock device firmware.
type CRC16 struct{}

// Size returns 2.
func (CRC16) Size() int { return 2 }

// Sum returns the 16-bit CRC.
func (CRC16) Sum(payload []byte) uint32 {
	var crc uint16
	for _, b := range payload {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return uint32(crc)
}

// putSum writes the low n bytes of sum big-endian.
func putSum(dst []byte, sum uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		dst[i] = byte(sum)
		sum >>= 8
	}
}

// getSum reads n bytes big-endian.
func getSum(src []byte, n int) uint32 {
	var sum uint32
	for i := range n {
		sum = sum<<8 | uint32(src[i])
	}
	return sum
}

// mask keeps the low n bytes.
func mask(sum uint32, n int) uint32 {
	if n >= 4 {
		return sum
	}
	return sum & (1<<(8*n) - 1)
}
