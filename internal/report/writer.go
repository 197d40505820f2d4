package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/coverage-analysis/pkg/compression"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
	"github.com/coverage-analysis/pkg/utils"
)

// DefaultSplitAfter is the session count after which a new part is started.
const DefaultSplitAfter = 5000

// missingSample bounds the unit names quoted in a missing analysis warning.
const missingSample = 10

// Options configures a Writer.
type Options struct {
	Format  Format
	Factory SinkFactory
	// BaseName names the parts: "<base>.<ext>", or "<base>-<n>.<ext>" when splitting.
	BaseName string
	// SplitAfter is the number of sessions per part; 0 disables splitting.
	SplitAfter int
	// Compression wraps every part in a compressed stream.
	Compression compression.Type
	Logger      utils.Logger
	// OnPart is called after each part is closed successfully.
	OnPart func(PartInfo)
}

// SessionSummary describes one session written to a part.
type SessionSummary struct {
	ID           string
	Files        int
	CoveredLines int
}

// PartInfo describes a finished report part.
type PartInfo struct {
	Index    int
	Name     string
	Location string
	Format   string
	Sessions []SessionSummary
	Closed   time.Time
}

// MissingAnalysisWarning aggregates every unit that had execution data but no
// structural analysis during the writer's lifetime.
type MissingAnalysisWarning struct {
	Units       []string
	Occurrences int
}

// Err returns the warning as a MISSING_ANALYSIS error.
func (w *MissingAnalysisWarning) Err() error {
	return apperrors.New(apperrors.CodeMissingAnalysis, w.String())
}

func (w *MissingAnalysisWarning) String() string {
	sample := w.Units
	more := ""
	if len(sample) > missingSample {
		sample = sample[:missingSample]
		more = fmt.Sprintf(" and %d more", len(w.Units)-missingSample)
	}
	return fmt.Sprintf("no structural analysis for %d units seen %d times (%v%s); they are missing from the report",
		len(w.Units), w.Occurrences, sample, more)
}

type writerState int

const (
	stateIdle writerState = iota
	stateSessionOpen
	stateClosed
)

func (s writerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSessionOpen:
		return "session open"
	default:
		return "closed"
	}
}

type openPart struct {
	info PartInfo
	sink Sink
	out  io.WriteCloser
	enc  Encoder
}

// Writer builds a report session by session. It is not safe for concurrent
// use; producers must be serialized by the caller.
type Writer struct {
	opts   Options
	logger utils.Logger
	state  writerState

	current *model.CoverageGroup
	files   map[string]*model.FileCoverage

	part  *openPart
	parts []PartInfo

	missing     map[string]struct{}
	occurrences int
	warnings    []*MissingAnalysisWarning
}

// NewWriter creates a writer. No output is created before the first session ends.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Format == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "report format is required")
	}
	if opts.Factory == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "report sink factory is required")
	}
	if opts.SplitAfter < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "split after must not be negative")
	}
	if opts.BaseName == "" {
		opts.BaseName = "coverage"
	}
	return &Writer{
		opts:    opts,
		logger:  utils.OrGlobal(opts.Logger),
		missing: make(map[string]struct{}),
	}, nil
}

func (w *Writer) expect(state writerState, op string) error {
	if w.state == stateClosed {
		return apperrors.Wrap(apperrors.CodeWriterClosed, fmt.Sprintf("cannot %s", op), apperrors.ErrWriterClosed)
	}
	if w.state != state {
		return apperrors.New(apperrors.CodeInvalidState, fmt.Sprintf("cannot %s while %s", op, w.state))
	}
	return nil
}

// BeginSession opens a session.
func (w *Writer) BeginSession(s model.Session) error {
	if err := w.expect(stateIdle, "begin session"); err != nil {
		return err
	}
	w.current = &model.CoverageGroup{Session: s}
	w.files = make(map[string]*model.FileCoverage)
	w.state = stateSessionOpen
	return nil
}

// AddCoverage adds file coverage to the open session. Files with the same
// path are merged.
func (w *Writer) AddCoverage(files ...*model.FileCoverage) error {
	if err := w.expect(stateSessionOpen, "add coverage"); err != nil {
		return err
	}
	for _, f := range files {
		if existing, ok := w.files[f.Path()]; ok {
			existing.Merge(f)
			continue
		}
		own := model.NewFileCoverage(f.Package, f.SourceFile)
		own.Merge(f)
		w.files[f.Path()] = own
	}
	return nil
}

// ReportMissing records units that had execution data but no analysis.
func (w *Writer) ReportMissing(units ...string) error {
	if w.state == stateClosed {
		return apperrors.Wrap(apperrors.CodeWriterClosed, "cannot report missing units", apperrors.ErrWriterClosed)
	}
	for _, u := range units {
		w.missing[u] = struct{}{}
		w.occurrences++
	}
	return nil
}

// EndSession writes the open session, starting a new part first if needed.
func (w *Writer) EndSession() error {
	if err := w.expect(stateSessionOpen, "end session"); err != nil {
		return err
	}
	g := w.current
	for _, f := range w.files {
		g.Files = append(g.Files, f)
	}
	g.SortFiles()
	w.current, w.files = nil, nil
	w.state = stateIdle

	if w.part == nil {
		if err := w.openPart(); err != nil {
			return err
		}
	}
	if err := w.part.enc.WriteSession(g); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to write session %s", g.Session.ID), err)
	}
	w.part.info.Sessions = append(w.part.info.Sessions, summarize(g))

	if w.opts.SplitAfter > 0 && len(w.part.info.Sessions) >= w.opts.SplitAfter {
		return w.closePart()
	}
	return nil
}

func summarize(g *model.CoverageGroup) SessionSummary {
	s := SessionSummary{ID: g.Session.ID}
	for _, f := range g.Files {
		if n := len(f.CoveredLines()); n > 0 {
			s.Files++
			s.CoveredLines += n
		}
	}
	return s
}

// Close ends an open session, finalizes the current part and emits the
// aggregated missing analysis warning. The writer cannot be used afterwards.
func (w *Writer) Close() error {
	if w.state == stateClosed {
		return apperrors.Wrap(apperrors.CodeWriterClosed, "cannot close", apperrors.ErrWriterClosed)
	}

	var err error
	if w.state == stateSessionOpen {
		err = w.EndSession()
	}
	if w.part != nil {
		if cerr := w.closePart(); err == nil {
			err = cerr
		}
	}
	w.state = stateClosed

	if len(w.missing) > 0 {
		warning := &MissingAnalysisWarning{Units: make([]string, 0, len(w.missing)), Occurrences: w.occurrences}
		for u := range w.missing {
			warning.Units = append(warning.Units, u)
		}
		sort.Strings(warning.Units)
		w.warnings = append(w.warnings, warning)
		w.logger.Warn("%s", warning)
	}
	return err
}

// Warnings returns the warnings emitted by Close.
func (w *Writer) Warnings() []*MissingAnalysisWarning {
	return w.warnings
}

// Parts returns the parts closed so far.
func (w *Writer) Parts() []PartInfo {
	return w.parts
}

func (w *Writer) partName(index int) string {
	name := w.opts.BaseName
	if w.opts.SplitAfter > 0 {
		name = fmt.Sprintf("%s-%d", name, index)
	}
	return name + "." + w.opts.Format.Extension() + w.opts.Compression.Extension()
}

func (w *Writer) openPart() error {
	index := len(w.parts) + 1
	name := w.partName(index)
	sink, err := w.opts.Factory.Create(name)
	if err != nil {
		return err
	}
	out, err := compression.NewWriter(w.opts.Compression, sink, compression.LevelDefault)
	if err != nil {
		_ = sink.Close()
		return err
	}
	enc := w.opts.Format.NewEncoder(out)
	if err := enc.Begin(); err != nil {
		_ = sink.Close()
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to start %s", name), err)
	}
	w.part = &openPart{
		info: PartInfo{Index: index, Name: name, Format: w.opts.Format.Name()},
		sink: sink,
		out:  out,
		enc:  enc,
	}
	w.logger.Debug("opened report part %s", name)
	return nil
}

func (w *Writer) closePart() error {
	p := w.part
	w.part = nil

	err := p.enc.End()
	if cerr := p.out.Close(); err == nil {
		err = cerr
	}
	if cerr := p.sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to finish %s", p.info.Name), err)
	}

	p.info.Location = p.sink.Location()
	p.info.Closed = time.Now()
	w.parts = append(w.parts, p.info)
	w.logger.Info("wrote report part %s with %d sessions", p.info.Location, len(p.info.Sessions))
	if w.opts.OnPart != nil {
		w.opts.OnPart(p.info)
	}
	return nil
}
