package execdata

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverage-analysis/internal/testutil"
	"github.com/coverage-analysis/pkg/collections"
	apperrors "github.com/coverage-analysis/pkg/errors"
	"github.com/coverage-analysis/pkg/model"
)

type testSession struct {
	id      string
	records []*model.ExecutionRecord
}

func record(id model.UnitID, name string, hits ...bool) *model.ExecutionRecord {
	return &model.ExecutionRecord{ID: id, Name: name, Probes: collections.FromBools(hits)}
}

func encode(t *testing.T, f Format, sessions ...testSession) []byte {
	t.Helper()
	var buf bytes.Buffer
	e, err := NewEncoder(&buf, f)
	require.NoError(t, err)
	for i, s := range sessions {
		require.NoError(t, e.VisitSession(model.Session{
			ID:    s.id,
			Start: time.UnixMilli(int64(1000 * i)),
			Dump:  time.UnixMilli(int64(1000*i + 500)),
		}))
		for _, r := range s.records {
			require.NoError(t, e.VisitExecution(r))
		}
	}
	require.NoError(t, e.Flush())
	return buf.Bytes()
}

type collector struct {
	sessions []model.Session
	records  []*model.ExecutionRecord
}

func (c *collector) VisitSession(s model.Session) error {
	c.sessions = append(c.sessions, s)
	return nil
}

func (c *collector) VisitExecution(r *model.ExecutionRecord) error {
	c.records = append(c.records, r)
	return nil
}

func decode(t *testing.T, data []byte) (*collector, Format, error) {
	t.Helper()
	c := &collector{}
	d := NewDecoder(bytes.NewReader(data), "test.exec")
	err := d.Decode(c)
	return c, d.Format(), err
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	wide := make([]bool, 300)
	wide[0], wide[8], wide[129], wide[299] = true, true, true, true

	data := encode(t, FormatCurrent,
		testSession{id: "FooTest#testA", records: []*model.ExecutionRecord{
			record(0x1122334455667788, "com/example/Foo", true, false, true),
			record(0xfedcba9876543210, "com/example/Bär", wide...),
		}},
		testSession{id: "FooTest#testB", records: []*model.ExecutionRecord{
			record(0x1122334455667788, "com/example/Foo"),
		}},
	)

	c, f, err := decode(t, data)
	require.NoError(t, err)
	assert.Equal(t, FormatCurrent, f)

	require.Len(t, c.sessions, 2)
	assert.Equal(t, "FooTest#testA", c.sessions[0].ID)
	assert.Equal(t, int64(500), c.sessions[0].Dump.UnixMilli())
	assert.Equal(t, int64(1000), c.sessions[1].Start.UnixMilli())

	require.Len(t, c.records, 3)
	assert.Equal(t, model.UnitID(0x1122334455667788), c.records[0].ID)
	assert.Equal(t, "FooTest#testA", c.records[0].SessionID)
	assert.Equal(t, []bool{true, false, true}, c.records[0].Probes.Bools())

	assert.Equal(t, model.UnitID(0xfedcba9876543210), c.records[1].ID)
	assert.Equal(t, "com/example/Bär", c.records[1].Name)
	assert.Equal(t, 300, c.records[1].ProbeCount())
	assert.Equal(t, []int{0, 8, 129, 299}, c.records[1].Probes.ToSlice())

	assert.Equal(t, "FooTest#testB", c.records[2].SessionID)
	assert.Equal(t, 0, c.records[2].ProbeCount())
}

func TestEncoder_WireLayout(t *testing.T) {
	data := encode(t, FormatCurrent, testSession{id: "s", records: []*model.ExecutionRecord{
		record(1, "A", true, false, false, false, false, false, false, false, true),
	}})

	want := []byte{
		0x01, 0xC0, 0xC0, 0x10, 0x07, // header
		0x10, 0x00, 0x01, 's', // session id
		0, 0, 0, 0, 0, 0, 0, 0, // start
		0, 0, 0, 0, 0, 0, 0x01, 0xF4, // dump
		0x11, 0, 0, 0, 0, 0, 0, 0, 1, // class id
		0x00, 0x01, 'A',
		0x09, 0x01, 0x01, // 9 probes, LSB first
	}
	assert.Equal(t, want, data)
}

func TestDecoder_Errors(t *testing.T) {
	valid := encode(t, FormatCurrent, testSession{id: "s", records: []*model.ExecutionRecord{
		record(1, "A", true),
	}})

	tests := []struct {
		name  string
		data  []byte
		check func(error) bool
	}{
		{"no header", []byte{BlockSessionInfo, 0, 0}, parseError},
		{"bad magic", []byte{BlockHeader, 0xC0, 0xC1, 0x10, 0x07}, parseError},
		{"unknown version", []byte{BlockHeader, 0xC0, 0xC0, 0x10, 0x05}, apperrors.IsIncompatibleFormat},
		{"mixed headers", append(append([]byte{}, valid...), BlockHeader, 0xC0, 0xC0, 0x10, 0x06), apperrors.IsIncompatibleFormat},
		{"truncated", valid[:len(valid)-1], parseError},
		{"unknown block", append(append([]byte{}, valid...), 0x7f), parseError},
		{"probe count beyond data", append(append([]byte{}, valid[:len(valid)-2]...), 0xFF, 0xFF, 0xFF, 0xFF, 0x07, 0x01), parseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decode(t, tt.data)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
			assert.Contains(t, err.Error(), "test.exec")
		})
	}
}

func parseError(err error) bool {
	return apperrors.GetErrorCode(err) == apperrors.CodeParseError
}

func TestDecoder_EmptyStream(t *testing.T) {
	c, f, err := decode(t, nil)
	require.NoError(t, err)
	assert.Equal(t, Format(0), f)
	assert.Empty(t, c.sessions)
}

func TestDecoder_SkipsCommandsAndRepeatedHeaders(t *testing.T) {
	var data []byte
	data = append(data, encode(t, FormatLegacy, testSession{id: "a"})...)
	data = append(data, BlockCmdDump, 1, 0, BlockCmdOk)
	data = append(data, encode(t, FormatLegacy, testSession{id: "b", records: []*model.ExecutionRecord{
		record(2, "B", false, true),
	}})...)

	c, f, err := decode(t, data)
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, f)
	assert.Len(t, c.sessions, 2)
	require.Len(t, c.records, 1)
	assert.Equal(t, "b", c.records[0].SessionID)
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	require.NoError(t, s.VisitSession(model.Session{ID: "t1", Start: time.UnixMilli(10), Dump: time.UnixMilli(20)}))
	require.NoError(t, s.VisitExecution(&model.ExecutionRecord{ID: 1, Name: "A", SessionID: "t1", Probes: collections.FromBools([]bool{true, false})}))
	require.NoError(t, s.VisitSession(model.Session{ID: "t2"}))
	require.NoError(t, s.VisitSession(model.Session{ID: "t1", Start: time.UnixMilli(5), Dump: time.UnixMilli(30)}))
	input := &model.ExecutionRecord{ID: 1, Name: "A", SessionID: "t1", Probes: collections.FromBools([]bool{false, true})}
	require.NoError(t, s.VisitExecution(input))

	groups := s.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "t1", groups[0].Session.ID)
	assert.Equal(t, int64(5), groups[0].Session.Start.UnixMilli())
	assert.Equal(t, int64(30), groups[0].Session.Dump.UnixMilli())
	require.Len(t, groups[0].Records, 1)
	assert.Equal(t, []bool{true, true}, groups[0].Records[0].Probes.Bools())
	assert.Equal(t, []bool{false, true}, input.Probes.Bools())
	assert.Empty(t, groups[1].Records)

	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestSessionStore_ProbeCountMismatch(t *testing.T) {
	s := NewSessionStore()
	require.NoError(t, s.VisitSession(model.Session{ID: "t1"}))
	require.NoError(t, s.VisitExecution(&model.ExecutionRecord{ID: 7, Name: "A", SessionID: "t1", Probes: collections.FromBools([]bool{true, false, false})}))

	err := s.VisitExecution(&model.ExecutionRecord{ID: 7, Name: "A", SessionID: "t1", Probes: collections.FromBools([]bool{false, false, false, false, true})})
	require.Error(t, err)
	assert.True(t, apperrors.IsProbeCountMismatch(err))

	records := s.Groups()[0].Records
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].ProbeCount())
	assert.Equal(t, []bool{true, false, false}, records[0].Probes.Bools())
}

func TestMerge(t *testing.T) {
	a := encode(t, FormatCurrent, testSession{id: "a", records: []*model.ExecutionRecord{record(1, "A", true)}})
	b := encode(t, FormatCurrent, testSession{id: "b", records: []*model.ExecutionRecord{record(2, "B", false, true)}})
	archive := testutil.Zip(t,
		testutil.ZipEntry{Name: "run/b.exec", Data: b},
		testutil.ZipEntry{Name: "run/notes.txt", Data: []byte("ignored")},
	)

	c := &collector{}
	f, err := Merge(context.Background(), c, MergeOptions{Workers: 2},
		BytesSource("a.exec", a),
		BytesSource("dumps.zip", archive),
		BytesSource("gz.exec.gz", testutil.Gzip(t, a)),
	)
	require.NoError(t, err)
	assert.Equal(t, FormatCurrent, f)

	ids := make([]string, len(c.sessions))
	for i, s := range c.sessions {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"a", "b", "a"}, ids)
	assert.Len(t, c.records, 3)
}

func TestMerge_IncompatibleVersionsEmitNothing(t *testing.T) {
	current := encode(t, FormatCurrent, testSession{id: "new", records: []*model.ExecutionRecord{record(1, "A", true)}})
	legacy := encode(t, FormatLegacy, testSession{id: "old", records: []*model.ExecutionRecord{record(1, "A", true)}})

	c := &collector{}
	_, err := Merge(context.Background(), c, MergeOptions{},
		BytesSource("current.exec", current),
		BytesSource("legacy.exec", legacy),
	)
	require.Error(t, err)
	assert.True(t, apperrors.IsIncompatibleFormat(err))
	assert.Contains(t, err.Error(), "current.exec")
	assert.Contains(t, err.Error(), "legacy.exec")
	assert.Empty(t, c.sessions)
	assert.Empty(t, c.records)
}

func TestMerge_SourceErrors(t *testing.T) {
	c := &collector{}
	_, err := Merge(context.Background(), c, MergeOptions{},
		Source{Name: "missing.exec", Open: func() (io.ReadCloser, error) { return nil, io.ErrClosedPipe }},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.exec")

	f, err := Merge(context.Background(), c, MergeOptions{}, BytesSource("empty.txt", []byte("plain text")))
	require.NoError(t, err)
	assert.Equal(t, Format(0), f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Merge(ctx, c, MergeOptions{}, BytesSource("a.exec", encode(t, FormatCurrent)))
	assert.ErrorIs(t, err, context.Canceled)
}
