package engine

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ftahirops/nvmequal/model"
)

// Record is one harness event written to disk.
type Record struct {
	RunID   string        `json:"run_id"`
	Time    time.Time     `json:"time"`
	Event   string        `json:"event"`
	Index   int           `json:"index"`
	Name    string        `json:"name"`
	Outcome model.Outcome `json:"outcome"`
}

// Recorder writes finished and skipped procedures as JSON lines.
type Recorder struct {
	mu     sync.Mutex
	writer *json.Encoder
	err    error
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{writer: json.NewEncoder(w)}
}

// Record is a Harness.OnEvent hook. Started events are not written. The first
// write error is kept and reported by Err; later events are dropped.
func (r *Recorder) Record(ev Event) {
	if ev.Kind == EventStarted {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.writer.Encode(Record{
		RunID:   ev.RunID,
		Time:    ev.Time,
		Event:   ev.Kind.String(),
		Index:   ev.Index,
		Name:    ev.Name,
		Outcome: ev.Outcome,
	})
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ReadRecords decodes a recording. Records whose fields do not decode are
// skipped; a stream that is not JSON ends decoding with the records read so far.
func ReadRecords(rd io.Reader) ([]Record, error) {
	dec := json.NewDecoder(rd)
	var recs []Record
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return recs, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
}
