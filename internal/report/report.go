// Package report describes scan outcomes in the shape analysis pipelines
// expect: one result section per recognised container, with a heuristic,
// free-text lines and tags.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"unquarantine/internal/quarantine"
	"unquarantine/internal/sink"
)

const (
	SectionTitle     = "Windows Defender Quarantine Results"
	HeuristicDecoded = 1
	TagDecodedName   = "file.name.decoded"
	ExtractedDesc    = "mse unquarantine file"
	decodedLine      = "Succesfully decoded file from Windows Defender Quarantine file"
)

// Report is the outcome of scanning one input file.
type Report struct {
	Name      string             `json:"name" yaml:"name"`
	Path      string             `json:"path,omitempty" yaml:"path,omitempty"`
	Status    string             `json:"status" yaml:"status"`
	Size      int                `json:"size" yaml:"size"`
	Header    *quarantine.Header `json:"header,omitempty" yaml:"header,omitempty"`
	Artifact  *sink.Artifact     `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Extracted []Extracted        `json:"extracted,omitempty" yaml:"extracted,omitempty"`
	Sections  []Section          `json:"sections,omitempty" yaml:"sections,omitempty"`
	Skipped   string             `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Error     string             `json:"error,omitempty" yaml:"error,omitempty"`
	ScannedAt time.Time          `json:"scanned_at" yaml:"scanned_at"`
}

// Section is a titled block of findings.
type Section struct {
	Title     string              `json:"title" yaml:"title"`
	Heuristic int                 `json:"heuristic,omitempty" yaml:"heuristic,omitempty"`
	Lines     []string            `json:"lines,omitempty" yaml:"lines,omitempty"`
	Tags      map[string][]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Extracted names a file produced from the input.
type Extracted struct {
	Path        string `json:"path" yaml:"path"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// AddTag appends value under tag, creating the map as needed.
func (s *Section) AddTag(tag, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string][]string)
	}
	s.Tags[tag] = append(s.Tags[tag], value)
}

// Build turns a decode result and the sink artifact into a Report.
// Non-containers get no section. Inconsistent containers get a section
// without a heuristic, so callers can tell "looked like a container" apart
// from "not a container at all".
func Build(path string, res *quarantine.Result, art *sink.Artifact) *Report {
	r := &Report{
		Name:      res.Name,
		Path:      path,
		Status:    res.Status.String(),
		Size:      res.Size,
		Artifact:  art,
		ScannedAt: time.Now().UTC(),
	}

	switch res.Status {
	case quarantine.StatusNotThisFormat:
		return r
	case quarantine.StatusInconsistentHeader:
		h := res.Header
		r.Header = &h
		r.Error = res.Err().Error()
		sec := Section{Title: SectionTitle}
		sec.Lines = append(sec.Lines, fmt.Sprintf("Quarantine magic found but header is inconsistent: header length %d, original length %d, file size %d",
			h.HeaderLength, h.OriginalLength, res.Size))
		r.Sections = append(r.Sections, sec)
		return r
	}

	h := res.Header
	r.Header = &h
	sec := Section{Title: SectionTitle, Heuristic: HeuristicDecoded}
	sec.Lines = append(sec.Lines, decodedLine)
	if art != nil && art.Path != "" {
		sec.Lines = append(sec.Lines, art.Path)
		sec.AddTag(TagDecodedName, art.Path)
		r.Extracted = append(r.Extracted, Extracted{
			Path:        art.Path,
			Name:        filepath.Base(art.Path),
			Description: ExtractedDesc,
		})
	}
	r.Sections = append(r.Sections, sec)
	return r
}

// Skip builds a report for a file that was never decoded.
func Skip(name, path, reason string, size int) *Report {
	return &Report{
		Name:      name,
		Path:      path,
		Status:    "skipped",
		Size:      size,
		Skipped:   reason,
		ScannedAt: time.Now().UTC(),
	}
}

// Failed builds a report for a file that could not be processed.
func Failed(name, path string, err error) *Report {
	return &Report{
		Name:      name,
		Path:      path,
		Status:    "error",
		Error:     err.Error(),
		ScannedAt: time.Now().UTC(),
	}
}

// Encode writes reports to w as an indented JSON array or a YAML sequence.
func Encode(w io.Writer, format string, reports []*Report) error {
	if reports == nil {
		reports = []*Report{}
	}
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// Stream writes reports one at a time, as JSON lines or as YAML documents.
// It is safe for concurrent use.
type Stream struct {
	mu   sync.Mutex
	json *json.Encoder
	yaml *yaml.Encoder
}

func NewStream(w io.Writer, format string) (*Stream, error) {
	switch format {
	case "", "json":
		return &Stream{json: json.NewEncoder(w)}, nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &Stream{yaml: enc}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func (s *Stream) Write(r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.json != nil {
		return s.json.Encode(r)
	}
	return s.yaml.Encode(r)
}

// Close flushes a YAML stream. It is a no-op for JSON.
func (s *Stream) Close() error {
	if s.yaml != nil {
		return s.yaml.Close()
	}
	return nil
}
