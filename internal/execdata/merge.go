package execdata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/coverage-analysis/internal/contenttype"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

// Source is a named execution data input. Its content may be wrapped in
// archives or compressed streams.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileSource reads a local file.
func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesSource serves an in-memory buffer.
func BytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// stream is the staged decode result of one exec leaf.
type stream struct {
	origin string
	format Format
	events []event
}

type event struct {
	session *model.Session
	record  *model.ExecutionRecord
}

type recorder struct {
	events []event
}

func (r *recorder) VisitSession(s model.Session) error {
	r.events = append(r.events, event{session: &s})
	return nil
}

func (r *recorder) VisitExecution(rec *model.ExecutionRecord) error {
	r.events = append(r.events, event{record: rec})
	return nil
}

// MergeOptions tunes Merge.
type MergeOptions struct {
	// Workers bounds concurrent source decoding; 0 means GOMAXPROCS.
	Workers int
}

// Merge decodes all sources concurrently and replays their events to v in
// source order. Every stream must carry the same format version: the first
// one pins it and any other fails the whole merge with INCOMPATIBLE_FORMAT
// naming both origins. Nothing reaches v unless every source decodes.
func Merge(ctx context.Context, v Visitor, opts MergeOptions, sources ...Source) (Format, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	staged := make([][]stream, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			streams, err := decodeSource(src)
			if err != nil {
				return err
			}
			staged[i] = streams
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var pinned *stream
	for _, streams := range staged {
		for j := range streams {
			s := &streams[j]
			if pinned == nil {
				pinned = s
				continue
			}
			if s.format != pinned.format {
				return 0, apperrors.IncompatibleFormat(
					fmt.Sprintf("cannot merge execution data version %s with %s", s.format, pinned.format),
					pinned.origin, s.origin)
			}
		}
	}
	if pinned == nil {
		return 0, nil
	}

	for _, streams := range staged {
		for _, s := range streams {
			if err := replay(ctx, s.events, v); err != nil {
				return 0, err
			}
		}
	}
	return pinned.format, nil
}

func decodeSource(src Source) ([]stream, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("cannot open %s", src.Name), err)
	}
	defer rc.Close()

	var streams []stream
	err = contenttype.Walk(src.Name, rc, func(origin string, t contenttype.Type, r io.Reader) error {
		if t != contenttype.Exec {
			return nil
		}
		rec := &recorder{}
		d := NewDecoder(r, origin)
		if err := d.Decode(rec); err != nil {
			return err
		}
		streams = append(streams, stream{origin: origin, format: d.Format(), events: rec.events})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return streams, nil
}

func replay(ctx context.Context, events []event, v Visitor) error {
	for i, e := range events {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var err error
		if e.session != nil {
			err = v.VisitSession(*e.session)
		} else {
			err = v.VisitExecution(e.record)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
