package engine

import (
	"time"

	"github.com/ftahirops/nvmequal/model"
)

// Entry is the outcome and log of one procedure.
type Entry struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Outcome     model.Outcome `json:"outcome"`
	Log         string        `json:"log,omitempty"`
}

// Summary aggregates one run for the report and the history store.
type Summary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Ignored  int       `json:"ignored"`
	Entries  []Entry   `json:"entries"`
	// Aborted is the error that stopped the run early, if any.
	Aborted error `json:"-"`
}

// Executed returns the number of procedures that ran.
func (s *Summary) Executed() int {
	return s.Passed + s.Failed
}

// OK reports whether the run completed and nothing failed.
func (s *Summary) OK() bool {
	return s.Aborted == nil && s.Failed == 0
}

// WithoutLogs returns a copy of the summary with the procedure logs dropped.
func (s *Summary) WithoutLogs() *Summary {
	c := *s
	c.Entries = make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		e.Log = ""
		c.Entries[i] = e
	}
	return &c
}

func (s *Summary) collect(procs []Procedure) {
	s.Entries = make([]Entry, 0, len(procs))
	s.Passed, s.Failed, s.Ignored = 0, 0, 0
	for _, p := range procs {
		e := Entry{
			Name:        p.Name(),
			Description: p.Description(),
			Outcome:     p.Result(),
			Log:         p.Report(),
		}
		switch e.Outcome {
		case model.Passed:
			s.Passed++
		case model.Failed:
			s.Failed++
		default:
			s.Ignored++
		}
		s.Entries = append(s.Entries, e)
	}
}
