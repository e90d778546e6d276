package renderer

import "time"

// The Scheduler interface is implemented by admission policies that split
// work into loop iterations. Flushes are measured in mutations and
// resource uploads in bytes.
type Scheduler interface {
	// Start a new loop iteration with the given budget. A zero budget
	// admits everything.
	Begin(budget time.Duration)

	// Admit returns true if a work item of the given size should run in
	// the current iteration. The first item of an iteration is always
	// admitted so that progress is guaranteed.
	Admit(units int) bool

	// Record the measured cost of an admitted item.
	Record(units int, took time.Duration)
}

// The throughput scheduler assumes that the cost of a unit of work between
// two subsequent iterations is approximately the same.
type throughputScheduler struct {
	budget   time.Duration
	spent    time.Duration
	admitted int

	// Accumulators for the running iteration.
	units int
	took  time.Duration

	// Estimated cost of a single unit, from the last iteration that ran
	// anything.
	perUnit float64
}

// Create a new throughput scheduler instance.
func NewThroughputScheduler() Scheduler {
	return &throughputScheduler{}
}

// Start a new iteration. When the previous iteration ran any work its
// statistics replace the per-unit estimate:
// cost_i+1 = time_i / units_i
func (sch *throughputScheduler) Begin(budget time.Duration) {
	if sch.units > 0 {
		sch.perUnit = float64(sch.took) / float64(sch.units)
	}
	sch.budget = budget
	sch.spent = 0
	sch.admitted = 0
	sch.units = 0
	sch.took = 0
}

func (sch *throughputScheduler) Admit(units int) bool {
	if sch.budget <= 0 || sch.admitted == 0 {
		sch.admitted++
		return true
	}

	// Every item costs at least one unit worth of work.
	estimate := time.Duration(sch.perUnit * float64(units+1))
	if sch.spent+estimate > sch.budget {
		return false
	}
	sch.admitted++
	return true
}

func (sch *throughputScheduler) Record(units int, took time.Duration) {
	sch.spent += took
	sch.units += units + 1
	sch.took += took
}
