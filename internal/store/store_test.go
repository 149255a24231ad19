package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vocsd.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRecordAndQueryEvents(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, state := range []string{"none", "recv", "send"} {
		e := Event{User: "alice", Role: "operator", Loop: "L1", State: state, Time: base.Add(time.Duration(i) * time.Second)}
		if err := st.RecordEvent(ctx, e); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}

	got, err := st.QueryEvents(ctx, EventQuery{Loop: "L1", MaxResults: 10})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].State != "none" || got[2].State != "send" {
		t.Fatalf("expected oldest-first ordering, got %+v", got)
	}
}

func TestQueryEventsRejectsOffset(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	_, err := st.QueryEvents(context.Background(), EventQuery{Offset: 1})
	if !errors.Is(err, ErrOffsetUnsupported) {
		t.Fatalf("expected ErrOffsetUnsupported, got %v", err)
	}
}

func TestQueryEventsTooManyResults(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := Event{User: "alice", Role: "operator", Loop: "L1", State: "recv", Time: time.Now().Add(time.Duration(i) * time.Second)}
		if err := st.RecordEvent(ctx, e); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}

	if _, err := st.QueryEvents(ctx, EventQuery{Loop: "L1", MaxResults: 2}); !errors.Is(err, ErrTooManyResults) {
		t.Fatalf("expected ErrTooManyResults, got %v", err)
	}
	got, err := st.QueryEvents(ctx, EventQuery{Loop: "L1", MaxResults: 3})
	if err != nil {
		t.Fatalf("query with sufficient page size: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
}

func TestStartAndStopRecording(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	id := "35e748f1-45ef-4f12-b5e3-f17fe80326b0"
	if err := st.StartRecording(ctx, id, "file:///data/rec1.ogg", "L1", start); err != nil {
		t.Fatalf("start recording: %v", err)
	}

	rec, err := st.RecordingByID(ctx, id)
	if err != nil {
		t.Fatalf("lookup recording: %v", err)
	}
	if !rec.EndTime.IsZero() {
		t.Fatalf("expected in-progress recording to have a zero end time, got %v", rec.EndTime)
	}

	end := start.Add(5 * time.Minute)
	if err := st.StopRecording(ctx, id, end); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	rec, err = st.RecordingByID(ctx, id)
	if err != nil {
		t.Fatalf("lookup recording after stop: %v", err)
	}
	if !rec.EndTime.Equal(end) {
		t.Fatalf("expected end time %v, got %v", end, rec.EndTime)
	}
}

func TestQueryRecordingsPaging(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := "rec-" + string(rune('a'+i))
		if err := st.StartRecording(ctx, id, "file:///data/"+id+".ogg", "L1", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("start recording %d: %v", i, err)
		}
	}

	if _, err := st.QueryRecordings(ctx, RecordingQuery{Loop: "L1", MaxResults: 2}); !errors.Is(err, ErrTooManyResults) {
		t.Fatalf("expected ErrTooManyResults, got %v", err)
	}

	got, err := st.QueryRecordings(ctx, RecordingQuery{Loop: "L1", MaxResults: 3})
	if err != nil {
		t.Fatalf("query recordings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 recordings, got %d", len(got))
	}
}
