package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ftahirops/nvmequal/model"
)

func TestRecorderWritesFinishedAndSkipped(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	ts := time.Unix(1000, 0).UTC()
	rec.Record(Event{RunID: "r1", Kind: EventSkipped, Index: 0, Name: "opal_capable", Time: ts})
	rec.Record(Event{RunID: "r1", Kind: EventStarted, Index: 1, Name: "ns_layout", Time: ts})
	rec.Record(Event{RunID: "r1", Kind: EventFinished, Index: 1, Name: "ns_layout", Outcome: model.Passed, Time: ts})
	if err := rec.Err(); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := ReadRecords(&buf)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Event != "skipped" || recs[0].Outcome != model.Ignored {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	if recs[1].Name != "ns_layout" || recs[1].Outcome != model.Passed || !recs[1].Time.Equal(ts) {
		t.Fatalf("unexpected second record %+v", recs[1])
	}
}

func TestReadRecordsSkipsUndecodableRecords(t *testing.T) {
	in := `{"run_id":"r1","name":"a","outcome":"PASSED"}
{"run_id":"r1","name":"b","outcome":"MAYBE"}
{"run_id":"r1","name":"c","outcome":"FAILED"}
`
	recs, err := ReadRecords(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "a" || recs[1].Name != "c" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestReadRecordsStopsOnGarbage(t *testing.T) {
	in := `{"run_id":"r1","name":"a","outcome":"PASSED"}
not json at all`
	recs, err := ReadRecords(strings.NewReader(in))
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	if len(recs) != 1 {
		t.Fatalf("expected the record before the garbage, got %d", len(recs))
	}
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, bytes.ErrTooLarge
}

func TestRecorderKeepsFirstError(t *testing.T) {
	w := &failingWriter{}
	rec := NewRecorder(w)
	rec.Record(Event{Kind: EventFinished, Name: "a"})
	rec.Record(Event{Kind: EventFinished, Name: "b"})
	if rec.Err() == nil {
		t.Fatal("expected write error")
	}
	if w.n != 1 {
		t.Fatalf("expected writes to stop after the first error, got %d", w.n)
	}
}
