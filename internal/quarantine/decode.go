// Package quarantine decodes Microsoft Defender / Security Essentials
// quarantine containers. A container is the original file plus a metadata
// header, RC4-encrypted as a whole with a fixed key taken from mpengine.dll.
//
// Decoding is a pure in-memory computation: no I/O, no shared state. Any
// number of Decode calls may run concurrently.
package quarantine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotThisFormat means the buffer failed magic or minimum-size sniffing.
	ErrNotThisFormat = errors.New("quarantine: not a quarantine container")
	// ErrInconsistentHeader means the magic matched but the decrypted header
	// does not describe the buffer it came from.
	ErrInconsistentHeader = errors.New("quarantine: inconsistent container header")
)

var magic = [3]byte{0x0B, 0xAD, 0x00}

// IsContainer reports whether b looks like a quarantine container. It only
// sniffs the magic bytes; a true result does not promise a sane header.
func IsContainer(b []byte) bool {
	if len(b) < MinContainerSize {
		return false
	}
	return b[0] == magic[0] && b[1] == magic[1] && b[2] == magic[2]
}

// Status is the outcome of a Decode call.
type Status int

const (
	StatusNotThisFormat Status = iota
	StatusInconsistentHeader
	StatusDecoded
)

func (s Status) String() string {
	switch s {
	case StatusNotThisFormat:
		return "not_this_format"
	case StatusInconsistentHeader:
		return "inconsistent_header"
	case StatusDecoded:
		return "decoded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the tagged outcome of decoding one buffer.
type Result struct {
	Name   string
	Status Status
	Size   int
	Header Header

	// Decrypted is the whole decrypted buffer. It is set whenever the magic
	// matched, including inconsistent containers, for forensic inspection.
	Decrypted []byte
	// Payload is the recovered original file. Set only for StatusDecoded;
	// it aliases Decrypted.
	Payload []byte

	err error
}

// OK reports whether a payload was recovered.
func (r *Result) OK() bool {
	return r.Status == StatusDecoded
}

// Err returns nil on success, otherwise an error wrapping ErrNotThisFormat
// or ErrInconsistentHeader.
func (r *Result) Err() error {
	if r.err == nil {
		return nil
	}
	if r.Name == "" {
		return r.err
	}
	return fmt.Errorf("%s: %w", r.Name, r.err)
}

// Decode runs the full pipeline over raw: sniff, decrypt, then validate and
// slice the header. name is carried into the result and errors only.
// raw is never modified.
func Decode(name string, raw []byte) *Result {
	res := &Result{Name: name, Size: len(raw)}
	if !IsContainer(raw) {
		res.Status = StatusNotThisFormat
		res.err = ErrNotThisFormat
		return res
	}

	key := Key()
	res.Decrypted = Decrypt(Schedule(&key), raw)

	h, payload, err := Extract(res.Decrypted, len(raw))
	res.Header = h
	if err != nil {
		res.Status = StatusInconsistentHeader
		res.err = err
		return res
	}
	res.Status = StatusDecoded
	res.Payload = payload
	return res
}
