package eventlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const maxArchiveLine = 1 << 20

// WriteArchive writes entries to w as gzip-compressed JSON lines.
func WriteArchive(w io.Writer, entries []Entry) error {
	gz := pgzip.NewWriter(w)
	var enc jx.Encoder
	for _, e := range entries {
		enc.Reset()
		e.Encode(&enc)
		if _, err := gz.Write(append(enc.Bytes(), '\n')); err != nil {
			_ = gz.Close()
			return errors.Wrapf(err, "write entry %s", e.ID)
		}
	}
	return errors.Wrap(gz.Close(), "close gzip writer")
}

// ReadArchive reads entries written by WriteArchive.
func ReadArchive(r io.Reader) ([]Entry, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var out []Entry
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxArchiveLine)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := e.Decode(jx.DecodeBytes(scanner.Bytes())); err != nil {
			return nil, errors.Wrapf(err, "decode line %d", line)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan archive")
	}
	return out, nil
}

// Lister reads entries since a point in time.
type Lister interface {
	ListSince(ctx context.Context, since time.Time, gateway string) ([]Entry, error)
}

// ArchiveFile describes one file written by Export.
type ArchiveFile struct {
	Gateway string
	Path    string
	Entries int
}

// Export writes one archive per gateway into dir, concurrently. Files are
// named events-<gateway>-<since>.jsonl.gz.
func Export(ctx context.Context, src Lister, since time.Time, dir string, gateways []string) ([]ArchiveFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	files := make([]ArchiveFile, len(gateways))
	g, ctx := errgroup.WithContext(ctx)
	for i, gw := range gateways {
		g.Go(func() error {
			entries, err := src.ListSince(ctx, since, gw)
			if err != nil {
				return errors.Wrapf(err, "list %s entries", gw)
			}

			path := filepath.Join(dir, fmt.Sprintf("events-%s-%s.jsonl.gz", gw, since.UTC().Format("20060102T150405Z")))
			f, err := os.Create(path)
			if err != nil {
				return errors.Wrapf(err, "create %s", path)
			}
			if err := WriteArchive(f, entries); err != nil {
				_ = f.Close()
				return errors.Wrapf(err, "write %s", path)
			}
			if err := f.Close(); err != nil {
				return errors.Wrapf(err, "close %s", path)
			}

			files[i] = ArchiveFile{Gateway: gw, Path: path, Entries: len(entries)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
