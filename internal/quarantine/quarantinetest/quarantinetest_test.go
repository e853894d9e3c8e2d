package quarantinetest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"unquarantine/internal/quarantine"
)

// Same bytes as the decoder's golden container: a 40-byte header followed by
// "MZ\x90\x00quarantined sample".
const goldenContainer = "0bad009893fdde68c2f991c781fafc908aa2adb36834039c1661bcc2" +
	"e6e8cae7f1ffa302725832b27d817fe00dc9da7d365dd4485c78cba696997b2c40af"

func TestContainerMatchesGolden(t *testing.T) {
	raw, err := Container([]byte("MZ\x90\x00quarantined sample"), 0)
	require.NoError(t, err)
	assert.Equal(t, goldenContainer, hex.EncodeToString(raw))
}

func TestContainerRejectsHugeExtra(t *testing.T) {
	for _, extra := range []uint32{MaxExtra + 1, math.MaxUint32 - 0x28, math.MaxUint32} {
		raw, err := Container([]byte("x"), extra)
		require.Error(t, err, "extra %d", extra)
		assert.Nil(t, raw)
	}

	raw, err := Container(nil, MaxExtra)
	require.NoError(t, err)
	assert.Len(t, raw, 0x28+MaxExtra)
}

func TestDecodeInconsistentKeepsDecrypted(t *testing.T) {
	raw, err := Container([]byte("payload"), 16)
	require.NoError(t, err)
	raw = append(raw, 0xFF) // one trailing byte breaks the length cross-check

	res := quarantine.Decode("trailing.bin", raw)
	assert.Equal(t, quarantine.StatusInconsistentHeader, res.Status)
	assert.Nil(t, res.Payload)
	assert.Len(t, res.Decrypted, len(raw))
	assert.Equal(t, uint32(16), res.Header.ExtraSize)
	assert.Equal(t, uint64(0x38), res.Header.HeaderLength)
	assert.Equal(t, uint32(7), res.Header.OriginalLength)
	require.Error(t, res.Err())
	assert.True(t, errors.Is(res.Err(), quarantine.ErrInconsistentHeader))
	assert.Contains(t, res.Err().Error(), "trailing.bin")
}

func TestDecodeEmptyPayload(t *testing.T) {
	raw, err := Container(nil, 4)
	require.NoError(t, err)

	res := quarantine.Decode("", raw)
	require.True(t, res.OK())
	assert.Empty(t, res.Payload)
	assert.Equal(t, uint64(0x2C), res.Header.HeaderLength)
}

func TestProperty_ContainerDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "payload")
		extra := rapid.Uint32Range(0, 512).Draw(t, "extra")

		raw, err := Container(payload, extra)
		if err != nil {
			t.Fatal(err)
		}
		if !quarantine.IsContainer(raw) {
			t.Fatalf("encoded buffer lacks magic")
		}
		res := quarantine.Decode("rt", raw)
		if !res.OK() {
			t.Fatalf("decode failed: %v", res.Err())
		}
		if !bytes.Equal(payload, res.Payload) {
			t.Fatalf("payload mismatch")
		}
	})
}
