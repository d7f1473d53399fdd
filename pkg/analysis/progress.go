package analysis

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/common"
)

var (
	ErrInvalidTransition = errors.New("invalid progress transition")
	ErrInvalidKind       = errors.New("invalid pass kind")
)

// State is the lifecycle position of a pass.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Kind selects what a pass computes.
type Kind string

const (
	KindSimilarity Kind = "similarity"
	KindCluster    Kind = "cluster"
	KindCitation   Kind = "citation"
	KindNetwork    Kind = "network"
	KindFull       Kind = "full"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSimilarity, KindCluster, KindCitation, KindNetwork, KindFull:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// NeedsLevel reports whether passes of this kind run against one level.
func (k Kind) NeedsLevel() bool {
	return k == KindSimilarity || k == KindCluster
}

// Steps are the named stages a pass of this kind moves through.
func (k Kind) Steps() []string {
	switch k {
	case KindSimilarity:
		return []string{"aggregate", "compare", "store"}
	case KindCluster:
		return []string{"aggregate", "cluster", "store"}
	case KindCitation:
		return []string{"extract", "rank", "store"}
	case KindNetwork:
		return []string{"extract", "rank", "compare", "assemble", "store"}
	case KindFull:
		return []string{"similarity", "cluster", "citation", "network", "store"}
	default:
		return nil
	}
}

// Progress is an immutable snapshot of a pass. Every transition returns a
// new value and leaves the receiver untouched.
type Progress struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Level      common.Level `json:"level,omitempty"`
	State      State        `json:"state"`
	Step       string       `json:"step,omitempty"`
	Completed  []string     `json:"completed_steps"`
	Steps      []string     `json:"steps"`
	Percent    float64      `json:"percent"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// NewProgress returns the pending record of a pass.
func NewProgress(id string, kind Kind, level common.Level, now time.Time) Progress {
	return Progress{
		ID:        id,
		Kind:      kind,
		Level:     level,
		State:     StatePending,
		Completed: []string{},
		Steps:     kind.Steps(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p Progress) clone() Progress {
	p.Completed = slices.Clone(p.Completed)
	p.Steps = slices.Clone(p.Steps)
	return p
}

func (p Progress) invalid(to string) error {
	return fmt.Errorf("%w: %s -> %s (pass %s)", ErrInvalidTransition, p.State, to, p.ID)
}

func (p Progress) percent() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	pc := float64(len(p.Completed)) / float64(len(p.Steps)) * 100
	return math.Round(pc*10) / 10
}

// Start moves a pending pass to running at its first step.
func (p Progress) Start(now time.Time) (Progress, error) {
	if p.State != StatePending {
		return Progress{}, p.invalid(string(StateRunning))
	}
	next := p.clone()
	next.State = StateRunning
	if len(next.Steps) > 0 {
		next.Step = next.Steps[0]
	}
	next.StartedAt = &now
	next.UpdatedAt = now
	return next, nil
}

// Advance completes the current step and moves to step, which must be the
// next declared step.
func (p Progress) Advance(step string, now time.Time) (Progress, error) {
	if p.State != StateRunning {
		return Progress{}, p.invalid("step " + step)
	}
	i := slices.Index(p.Steps, p.Step)
	if i < 0 || i+1 >= len(p.Steps) || p.Steps[i+1] != step {
		return Progress{}, fmt.Errorf("%w: step %q does not follow %q", ErrInvalidTransition, step, p.Step)
	}
	next := p.clone()
	next.Completed = append(next.Completed, p.Step)
	next.Step = step
	next.Percent = next.percent()
	next.UpdatedAt = now
	return next, nil
}

// Complete finishes a running pass on its last step.
func (p Progress) Complete(now time.Time) (Progress, error) {
	if p.State != StateRunning {
		return Progress{}, p.invalid(string(StateCompleted))
	}
	if len(p.Steps) > 0 && p.Step != p.Steps[len(p.Steps)-1] {
		return Progress{}, fmt.Errorf("%w: cannot complete at step %q", ErrInvalidTransition, p.Step)
	}
	next := p.clone()
	if next.Step != "" {
		next.Completed = append(next.Completed, next.Step)
	}
	next.Step = ""
	next.State = StateCompleted
	next.Percent = 100
	next.UpdatedAt = now
	next.FinishedAt = &now
	return next, nil
}

// Fail records err on a pending or running pass.
func (p Progress) Fail(err error, now time.Time) (Progress, error) {
	if p.State.Terminal() {
		return Progress{}, p.invalid(string(StateFailed))
	}
	next := p.clone()
	next.State = StateFailed
	if err != nil {
		next.Error = err.Error()
	}
	next.UpdatedAt = now
	next.FinishedAt = &now
	return next, nil
}
