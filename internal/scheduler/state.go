package scheduler

import "sync/atomic"

// State is a row's position in the processing pipeline.
type State int

const (
	Pending State = iota
	Hydrating
	Pricing
	QuotaCheck
	Writing
	Skipped
	LoggingResult
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Hydrating:
		return "hydrating"
	case Pricing:
		return "pricing"
	case QuotaCheck:
		return "quota_check"
	case Writing:
		return "writing"
	case Skipped:
		return "skipped"
	case LoggingResult:
		return "logging_result"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives every state transition of every row.
type Observer func(row string, from, to State)

// Sequencer provides monotonically increasing round numbers.
type Sequencer struct{ n atomic.Uint64 }

// Next returns the next round number.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Current returns the last issued round number.
func (s *Sequencer) Current() uint64 { return s.n.Load() }
