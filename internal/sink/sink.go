// Package sink persists payloads recovered from quarantine containers.
package sink

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"unquarantine/internal/compression"
	"unquarantine/internal/quarantine"
)

const (
	payloadSuffix = "_decoded.bin"
	metaSuffix    = "_decoded_meta.bin"
	tempPattern   = ".unq-*"
)

// ErrExists is returned when an artifact is already on disk and overwriting
// is disabled.
var ErrExists = errors.New("sink: artifact already exists")

// Sink receives decode results. Put is only called for results whose magic
// matched; implementations decide what to keep. source identifies the input,
// usually its path, and determines the artifact names.
type Sink interface {
	Put(source string, res *quarantine.Result) (*Artifact, error)
}

// Artifact describes what was written for one container.
type Artifact struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	MetaPath    string `json:"meta_path,omitempty" yaml:"meta_path,omitempty"`
	Size        int    `json:"size" yaml:"size"`
	StoredSize  int    `json:"stored_size" yaml:"stored_size"`
	Compression string `json:"compression" yaml:"compression"`
	SHA256      string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	BLAKE2b256  string `json:"blake2b_256,omitempty" yaml:"blake2b_256,omitempty"`
}

func (a *Artifact) digest(payload []byte) {
	sum := sha256.Sum256(payload)
	b2 := blake2b.Sum256(payload)
	a.Size = len(payload)
	a.SHA256 = hex.EncodeToString(sum[:])
	a.BLAKE2b256 = hex.EncodeToString(b2[:])
}

// Options configures a DirSink.
type Options struct {
	Dir       string
	Codec     compression.Codec
	KeepMeta  bool
	Overwrite bool
}

// DirSink writes artifacts into a single directory.
type DirSink struct {
	opts Options
}

// NewDir creates the output directory if needed.
func NewDir(opts Options) (*DirSink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("sink: output directory is required")
	}
	if opts.Codec == nil {
		opts.Codec = compression.None{}
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", opts.Dir, err)
	}
	return &DirSink{opts: opts}, nil
}

// ArtifactBase is the file name prefix used for source: its base name plus a
// short digest of its absolute path. Inputs sharing a base name in different
// directories therefore never collide, and rescanning one input always maps
// to the same artifacts.
func ArtifactBase(source string) string {
	id := source
	if abs, err := filepath.Abs(source); err == nil {
		id = abs
	}
	sum := sha256.Sum256([]byte(id))
	return sanitize(source) + "_" + hex.EncodeToString(sum[:4])
}

// Put writes the payload of a decoded container as <base>_decoded.bin and,
// with KeepMeta, the whole decrypted buffer as <base>_decoded_meta.bin, where
// base is ArtifactBase(source). The meta dump is written for inconsistent
// containers too. Either every artifact is written or none is left behind.
func (s *DirSink) Put(source string, res *quarantine.Result) (*Artifact, error) {
	base := ArtifactBase(source)
	art := &Artifact{Compression: s.opts.Codec.Name()}

	var metaPath, payloadPath string
	if s.opts.KeepMeta && res.Decrypted != nil {
		metaPath = filepath.Join(s.opts.Dir, base+metaSuffix)
	}
	if res.OK() {
		payloadPath = filepath.Join(s.opts.Dir, base+payloadSuffix+s.opts.Codec.Ext())
	}
	if !s.opts.Overwrite {
		for _, p := range []string{metaPath, payloadPath} {
			if p == "" {
				continue
			}
			if _, err := os.Lstat(p); err == nil {
				return nil, fmt.Errorf("%w: %s", ErrExists, p)
			} else if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	var stored []byte
	if res.OK() {
		art.digest(res.Payload)
		var err error
		stored, err = s.opts.Codec.Compress(res.Payload)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", base, err)
		}
		art.StoredSize = len(stored)
	}

	if metaPath != "" {
		if err := s.write(metaPath, res.Decrypted); err != nil {
			return nil, err
		}
		art.MetaPath = metaPath
	}
	if payloadPath != "" {
		if err := s.write(payloadPath, stored); err != nil {
			if metaPath != "" {
				os.Remove(metaPath)
			}
			return nil, err
		}
		art.Path = payloadPath
	}
	return art, nil
}

// write stores data via a temp file so readers never see a partial artifact.
// Without Overwrite the temp file is hard-linked into place, which fails
// rather than replacing a file another writer published first.
func (s *DirSink) write(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if s.opts.Overwrite {
		if err := os.Rename(tmpName, path); err != nil {
			return fmt.Errorf("rename %s: %w", path, err)
		}
		return nil
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("link %s: %w", path, err)
	}
	return nil
}

// sanitize keeps artifacts inside the output directory whatever the
// reporting name looks like.
func sanitize(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "unnamed"
	}
	return base
}

// Discard is a Sink that persists nothing. It still fills in digests so
// reports stay useful in dry runs.
type Discard struct{}

func (Discard) Put(_ string, res *quarantine.Result) (*Artifact, error) {
	art := &Artifact{Compression: "none"}
	if res.OK() {
		art.digest(res.Payload)
	}
	return art, nil
}
