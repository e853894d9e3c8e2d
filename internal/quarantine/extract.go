package quarantine

import (
	"encoding/binary"
	"fmt"
)

const (
	// MinContainerSize is the smallest buffer that can carry the magic and
	// the extra-header-size field.
	MinContainerSize = 12

	headerBase       = 0x28
	extraSizeOffset  = 8
	origLenFromEnd   = 12 // originalLength sits at [headerLength-12, headerLength-8)
	origLenFieldSize = 4
)

// Header holds the length fields recovered from a decrypted container.
type Header struct {
	ExtraSize      uint32 `json:"extra_size" yaml:"extra_size"`
	HeaderLength   uint64 `json:"header_length" yaml:"header_length"`
	OriginalLength uint32 `json:"original_length" yaml:"original_length"`
}

// Extract parses the header of a decrypted container and returns the payload
// slice. The payload aliases decrypted. Any inconsistency is reported as an
// error wrapping ErrInconsistentHeader and no payload is returned; the Header
// still carries whatever fields were read before the check failed.
func Extract(decrypted []byte, totalLength int) (Header, []byte, error) {
	var h Header
	if totalLength < MinContainerSize || len(decrypted) != totalLength {
		return h, nil, fmt.Errorf("%w: buffer length %d, expected %d", ErrInconsistentHeader, len(decrypted), totalLength)
	}
	total := uint64(totalLength)

	h.ExtraSize = binary.LittleEndian.Uint32(decrypted[extraSizeOffset:])
	// 64-bit sum: a 32-bit extra size plus the base cannot wrap here.
	h.HeaderLength = headerBase + uint64(h.ExtraSize)

	if h.HeaderLength > total {
		return h, nil, fmt.Errorf("%w: header length %d exceeds container size %d", ErrInconsistentHeader, h.HeaderLength, total)
	}
	// HeaderLength >= headerBase, so the field always lies inside the header.
	start := h.HeaderLength - origLenFromEnd
	h.OriginalLength = binary.LittleEndian.Uint32(decrypted[start : start+origLenFieldSize])

	if uint64(h.OriginalLength)+h.HeaderLength != total {
		return h, nil, fmt.Errorf("%w: original length %d + header length %d != container size %d",
			ErrInconsistentHeader, h.OriginalLength, h.HeaderLength, total)
	}
	return h, decrypted[h.HeaderLength:total], nil
}
