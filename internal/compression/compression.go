// Package compression wraps recovered payloads before they hit disk.
// Quarantined samples are usually executables and compress well; the codec
// is recorded in the artifact name so the bytes can be restored verbatim.
package compression

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses whole payloads.
type Codec interface {
	Name() string
	// Ext is appended to the artifact file name; empty for no compression.
	Ext() string
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// Parse returns the codec registered under name at its default level.
func Parse(name string) (Codec, error) {
	return New(name, LevelDefault)
}

// New returns the codec registered under name, compressing at level.
func New(name string, level Level) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None{}, nil
	case "lz4":
		return NewLZ4(level), nil
	case "zlib":
		return NewZlib(level.zlibLevel()), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// None stores payloads as-is.
type None struct{}

func (None) Name() string { return "none" }
func (None) Ext() string  { return "" }

func (None) Compress(src []byte) ([]byte, error)   { return src, nil }
func (None) Decompress(src []byte) ([]byte, error) { return src, nil }

// Level represents compression level.
type Level int

const (
	LevelFastest Level = iota
	LevelFast
	LevelDefault
	LevelSlow
	LevelSlowest
)

var levelNames = map[string]Level{
	"fastest": LevelFastest,
	"fast":    LevelFast,
	"default": LevelDefault,
	"slow":    LevelSlow,
	"slowest": LevelSlowest,
}

// ParseLevel maps a config string to a Level. Empty means LevelDefault.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LevelDefault, nil
	}
	l, ok := levelNames[s]
	if !ok {
		return LevelDefault, fmt.Errorf("unknown compression level %q", s)
	}
	return l, nil
}

func (l Level) String() string {
	for name, v := range levelNames {
		if v == l {
			return name
		}
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) zlibLevel() int {
	switch l {
	case LevelFastest:
		return flate.BestSpeed
	case LevelFast:
		return 3
	case LevelSlow:
		return 7
	case LevelSlowest:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func (l Level) lz4Level() lz4.CompressionLevel {
	switch l {
	case LevelFastest:
		return lz4.Fast
	case LevelFast:
		return lz4.Level1
	case LevelSlow:
		return lz4.Level6
	case LevelSlowest:
		return lz4.Level9
	default:
		return lz4.Level3
	}
}

// LZ4 writes the lz4 frame format, readable by the stock lz4 CLI.
type LZ4 struct {
	level Level
}

// NewLZ4 creates an lz4 frame codec.
func NewLZ4(level Level) *LZ4 {
	if level < LevelFastest || level > LevelSlowest {
		level = LevelDefault
	}
	return &LZ4{level: level}
}

func (c *LZ4) Name() string { return "lz4" }
func (c *LZ4) Ext() string  { return ".lz4" }

func (c *LZ4) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level.lz4Level()), lz4.ChecksumOption(true)); err != nil {
		return nil, fmt.Errorf("lz4 options: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *LZ4) Decompress(src []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out, nil
}

// Zlib writes RFC 1950 streams.
type Zlib struct {
	level int
}

// NewZlib creates a zlib codec. Out-of-range levels fall back to the default.
func NewZlib(level int) *Zlib {
	zl := flate.DefaultCompression
	if level >= -2 && level <= 9 {
		zl = level
	}
	return &Zlib{level: zl}
}

func (c *Zlib) Name() string { return "zlib" }
func (c *Zlib) Ext() string  { return ".zz" }

func (c *Zlib) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Zlib) Decompress(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	return out, nil
}
