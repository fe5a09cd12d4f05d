package oceanoptics

import (
	"encoding/binary"
	"fmt"
)

// Decode validates a spectrum packet and unpacks it into pixel intensities.
//
// The packet must be exactly packetSize bytes and end in EndMarker.  All bytes
// before the marker are little endian uint16 pairs, so (packetSize-1)/2
// samples are returned.  An odd payload is a model configuration error and
// is reported as ErrBadPacketSize rather than silently dropping a byte.
func Decode(raw []byte, packetSize int) ([]uint16, error) {
	if packetSize < 3 || (packetSize-1)%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadPacketSize, packetSize)
	}
	if len(raw) != packetSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidPacket, len(raw), packetSize)
	}
	return unpack(raw)
}

// DecodeLenient is Decode for device variants that may answer with a short
// packet.  Only the end marker and an even payload are checked.
func DecodeLenient(raw []byte) ([]uint16, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPacket, len(raw))
	}
	if (len(raw)-1)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload of %d bytes", ErrInvalidPacket, len(raw)-1)
	}
	return unpack(raw)
}

func unpack(raw []byte) ([]uint16, error) {
	last := len(raw) - 1
	if raw[last] != EndMarker {
		return nil, fmt.Errorf("%w: end marker 0x%02X, expected 0x%02X", ErrInvalidPacket, raw[last], EndMarker)
	}
	out := make([]uint16, last/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return out, nil
}
