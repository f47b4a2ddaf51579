package deck

import (
	"sort"
	"time"

	"k8s.io/utils/clock"
)

// Owner identifies who scheduled a deferred step. Superseding an owner
// invalidates every step it has pending.
type Owner int

const (
	OwnerTransport Owner = iota
	OwnerArm
	ownerCount
)

func (o Owner) String() string {
	switch o {
	case OwnerTransport:
		return "transport"
	case OwnerArm:
		return "arm"
	default:
		return "unknown"
	}
}

type step struct {
	due   time.Time
	seq   uint64
	owner Owner
	gen   uint64
	name  string
	run   func(now time.Time)
}

// Scheduler is a list of fire-once steps run against a monotonic clock.
// Each step carries the generation of its owner at scheduling time; a step
// whose owner has since been superseded is dropped without running.
type Scheduler struct {
	clock clock.PassiveClock
	gens  [ownerCount]uint64
	seq   uint64
	steps []step
}

// NewScheduler returns an empty scheduler reading time from c.
func NewScheduler(c clock.PassiveClock) *Scheduler {
	return &Scheduler{clock: c}
}

// After schedules run to fire once, delay from now, on behalf of owner.
func (s *Scheduler) After(owner Owner, delay time.Duration, name string, run func(now time.Time)) {
	s.seq++
	s.steps = append(s.steps, step{
		due:   s.clock.Now().Add(delay),
		seq:   s.seq,
		owner: owner,
		gen:   s.gens[owner],
		name:  name,
		run:   run,
	})
}

// Supersede moves the given owners to a new generation and drops their
// pending steps.
func (s *Scheduler) Supersede(owners ...Owner) {
	for _, o := range owners {
		s.gens[o]++
	}
	kept := s.steps[:0]
	for _, st := range s.steps {
		if st.gen == s.gens[st.owner] {
			kept = append(kept, st)
		}
	}
	for i := len(kept); i < len(s.steps); i++ {
		s.steps[i] = step{}
	}
	s.steps = kept
}

// Generation returns the current generation of owner.
func (s *Scheduler) Generation(owner Owner) uint64 { return s.gens[owner] }

// Pending returns the number of steps owner has waiting.
func (s *Scheduler) Pending(owner Owner) int {
	n := 0
	for _, st := range s.steps {
		if st.owner == owner {
			n++
		}
	}
	return n
}

// Len returns the number of pending steps.
func (s *Scheduler) Len() int { return len(s.steps) }

// RunDue runs every step due at or before now, in due order. A step that
// supersedes its own owner stops later steps of the same batch from
// running. Steps scheduled while running wait for the next call.
func (s *Scheduler) RunDue(now time.Time) int {
	var due, later []step
	for _, st := range s.steps {
		if st.due.After(now) {
			later = append(later, st)
		} else {
			due = append(due, st)
		}
	}
	if len(due) == 0 {
		return 0
	}
	s.steps = later
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})

	ran := 0
	for _, st := range due {
		if st.gen != s.gens[st.owner] {
			continue
		}
		st.run(now)
		ran++
	}
	return ran
}
