package model

import "fmt"

// Outcome is the tri-state result of a qualification procedure.
type Outcome int

const (
	Ignored Outcome = iota // not selected for this run
	Failed
	Passed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "IGNORED"
	case Failed:
		return "FAILED"
	case Passed:
		return "PASSED"
	}
	return "UNKNOWN"
}

// Executed reports whether the procedure ran at all.
func (o Outcome) Executed() bool {
	return o != Ignored
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IGNORED":
		*o = Ignored
	case "FAILED":
		*o = Failed
	case "PASSED":
		*o = Passed
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}
