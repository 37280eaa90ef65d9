package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var out []Record
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestJSONLWriter_Envelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "snapshot/alpha")
	ctx := context.Background()

	require.NoError(t, w.WriteItem(ctx, &ItemRecord{Key: "a/b", Size: 3, MD5: "m", SHA256: "s", Attempts: 1}))
	require.NoError(t, w.WriteSkip(ctx, &SkipRecord{Key: "c", Reason: SkipReasonExcluded}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeNotFound, Message: "gone", Key: "d"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Status: "COMPLETED", ItemsWritten: 1}))

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{TypeItem, TypeSkip, TypeError, TypeSummary},
		[]string{recs[0].Type, recs[1].Type, recs[2].Type, recs[3].Type})
	for _, r := range recs {
		assert.Equal(t, "run-1", r.RunID)
		assert.Equal(t, "snapshot/alpha", r.Job)
		assert.False(t, r.TS.IsZero())
	}

	var item ItemRecord
	require.NoError(t, json.Unmarshal(recs[0].Data, &item))
	assert.Equal(t, "a/b", item.Key)
	assert.Equal(t, int64(3), item.Size)
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "snapshot/alpha")
	require.NoError(t, w.Close())

	err := w.WriteItem(context.Background(), &ItemRecord{Key: "x"})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "snapshot/alpha")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteItem(ctx, &ItemRecord{Key: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONLWriter_ConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "restoration/7")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteItem(ctx, &ItemRecord{Key: "k", Size: 1})
		}()
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), 50)
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 4 {
		p = p[:4]
	}
	return s.buf.Write(p)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONLWriter_ShortWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "run-1", "snapshot/alpha")
	require.NoError(t, w.WriteSkip(context.Background(), &SkipRecord{Key: "k", Reason: SkipReasonNotIncluded}))

	recs := decodeLines(t, &sw.buf)
	require.Len(t, recs, 1)
	assert.Equal(t, TypeSkip, recs[0].Type)
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(failingWriter{}, "run-1", "snapshot/alpha")
	err := w.WriteItem(context.Background(), &ItemRecord{Key: "k"})

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
}
