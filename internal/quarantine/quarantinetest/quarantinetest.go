// Package quarantinetest builds quarantine containers for tests.
package quarantinetest

import (
	"encoding/binary"
	"fmt"

	"unquarantine/internal/quarantine"
)

const (
	headerBase      = 0x28
	extraSizeOffset = 8
	origLenFromEnd  = 12

	// MaxExtra bounds the opaque metadata block so a stray argument cannot
	// turn into a multi-gigabyte allocation.
	MaxExtra = 1 << 20
	// MaxPayload bounds the payload for the same reason.
	MaxPayload = 64 << 20
)

var magic = [3]byte{0x0B, 0xAD, 0x00}

// Container wraps payload in a quarantine container. extra is the size of the
// metadata block between the fixed header and the length field; its bytes are
// left zero. The first three plaintext bytes are chosen so the ciphertext
// carries the container magic.
func Container(payload []byte, extra uint32) ([]byte, error) {
	if extra > MaxExtra {
		return nil, fmt.Errorf("quarantinetest: extra size %d above %d", extra, MaxExtra)
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("quarantinetest: payload of %d bytes above %d", len(payload), MaxPayload)
	}
	hl := headerBase + int(extra)

	key := quarantine.Key()
	ks := make([]byte, len(magic))
	quarantine.Schedule(&key).XORKeyStream(ks, ks)

	plain := make([]byte, hl+len(payload))
	for i := range magic {
		plain[i] = magic[i] ^ ks[i]
	}
	binary.LittleEndian.PutUint32(plain[extraSizeOffset:], extra)
	binary.LittleEndian.PutUint32(plain[hl-origLenFromEnd:], uint32(len(payload)))
	copy(plain[hl:], payload)

	return quarantine.Decrypt(quarantine.Schedule(&key), plain), nil
}
