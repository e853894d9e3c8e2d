// Package scanner feeds files through the quarantine decoder, hands
// recognised containers to a sink and turns every outcome into a report.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"unquarantine/internal/logx"
	"unquarantine/internal/metrics"
	"unquarantine/internal/quarantine"
	"unquarantine/internal/report"
	"unquarantine/internal/sink"
)

const tempPrefix = ".unq-"

type Options struct {
	// MaxSize skips files larger than this many bytes. Zero disables the limit.
	MaxSize   int64
	Recursive bool
	Workers   int
}

type Scanner struct {
	opts Options
	sink sink.Sink
	log  *logx.Logger
}

// New returns a Scanner. A nil sink discards payloads; a nil logger is silent.
func New(opts Options, s sink.Sink, lg *logx.Logger) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if s == nil {
		s = sink.Discard{}
	}
	return &Scanner{opts: opts, sink: s, log: lg}
}

// ScanFile decodes one file. The returned error is operational (the file
// could not be read or its artifact could not be written); a file that is
// not a container, or whose header is inconsistent, is a normal outcome
// described by the report alone.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*report.Report, error) {
	name := filepath.Base(path)
	if err := ctx.Err(); err != nil {
		return report.Failed(name, path, err), err
	}

	fi, err := os.Stat(path)
	if err != nil {
		metrics.IncReadErrors()
		return report.Failed(name, path, err), fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		metrics.IncSkipped()
		return report.Skip(name, path, "not a regular file", 0), nil
	}
	if s.opts.MaxSize > 0 && fi.Size() > s.opts.MaxSize {
		metrics.IncSkipped()
		s.log.Debugf("skip %s: %d bytes exceeds max_size %d", path, fi.Size(), s.opts.MaxSize)
		return report.Skip(name, path, fmt.Sprintf("size %d exceeds limit %d", fi.Size(), s.opts.MaxSize), int(fi.Size())), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		metrics.IncReadErrors()
		return report.Failed(name, path, err), fmt.Errorf("read %s: %w", path, err)
	}
	metrics.AddScanned(int64(len(raw)))

	res := quarantine.Decode(name, raw)
	switch res.Status {
	case quarantine.StatusNotThisFormat:
		metrics.IncNotThisFormat()
		s.log.Debugf("%s: not a quarantine container", path)
		return report.Build(path, res, nil), nil
	case quarantine.StatusInconsistentHeader:
		metrics.IncInconsistent()
		s.log.Warnf("%s: %v", path, res.Err())
	}

	art, err := s.sink.Put(path, res)
	if err != nil {
		metrics.IncSinkErrors()
		s.log.Errorf("%s: store artifact: %v", path, err)
		r := report.Build(path, res, nil)
		r.Error = err.Error()
		return r, fmt.Errorf("store %s: %w", name, err)
	}

	if res.OK() {
		metrics.AddDecoded(int64(len(res.Payload)), int64(art.StoredSize))
		if art.Path != "" {
			s.log.Infof("%s: decoded %d bytes to %s", path, len(res.Payload), art.Path)
		} else {
			s.log.Infof("%s: decoded %d bytes", path, len(res.Payload))
		}
	}
	return report.Build(path, res, art), nil
}

// ScanPaths expands directories and scans every file with at most
// Options.Workers files in flight. Reports come back in input order. One
// failing file does not stop the others; their errors are joined.
func (s *Scanner) ScanPaths(ctx context.Context, paths []string) ([]*report.Report, error) {
	files, err := s.Expand(paths)
	if err != nil {
		return nil, err
	}

	reports := make([]*report.Report, len(files))
	errs := make([]error, len(files))
	s.each(ctx, files, func(i int, r *report.Report, err error) {
		reports[i], errs[i] = r, err
	})
	return reports, errors.Join(errs...)
}

// each scans files with at most Options.Workers in flight and calls fn with
// the index of every file as its scan completes.
func (s *Scanner) each(ctx context.Context, files []string, fn func(i int, r *report.Report, err error)) {
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			r, err := s.ScanFile(ctx, f)
			fn(i, r, err)
			return nil
		})
	}
	_ = g.Wait()
}

// Expand resolves paths into the list of files to scan. Directories are
// listed one level deep, or walked fully with Options.Recursive. Artifacts
// this tool writes are left out so rescanning an output directory is a no-op.
func (s *Scanner) Expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !fi.IsDir() {
			files = append(files, p)
			continue
		}

		var found []string
		if s.opts.Recursive {
			err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.Type().IsRegular() && !IsArtifact(d.Name()) {
					found = append(found, path)
				}
				return nil
			})
		} else {
			var entries []os.DirEntry
			entries, err = os.ReadDir(p)
			for _, e := range entries {
				if e.Type().IsRegular() && !IsArtifact(e.Name()) {
					found = append(found, filepath.Join(p, e.Name()))
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// IsArtifact reports whether name looks like a file written by a sink.
func IsArtifact(name string) bool {
	return strings.HasPrefix(name, tempPrefix) ||
		strings.Contains(name, "_decoded.bin") ||
		strings.HasSuffix(name, "_decoded_meta.bin")
}
