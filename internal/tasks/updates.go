package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/collectx/internal/models"
)

// LoopState is the state of a [PollLoop].
type LoopState int

const (
	Submitting LoopState = iota
	Polling
	Reconciling
	Terminal
)

func (s LoopState) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case Polling:
		return "polling"
	case Reconciling:
		return "reconciling"
	case Terminal:
		return "terminal"
	default:
		return ""
	}
}

// ProgressUpdate is emitted once per reconciling step.
//
// NewlyAccepted holds copies; observers may keep or modify them.
type ProgressUpdate struct {
	Job           models.Job
	Cycle         int
	Phase         models.Phase
	Completed     int
	Total         int
	Percent       float64
	Accepted      int // size of the reconciled set after this step
	NewlyAccepted []models.ResultItem
	Elapsed       time.Duration
	Message       string
}

// Observer receives progress from a [PollLoop].
type Observer interface {
	Observe(update ProgressUpdate)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(ProgressUpdate)

func (f ObserverFunc) Observe(u ProgressUpdate) { f(u) }

// ChannelObserver forwards updates to a channel without blocking.
//
// Updates are dropped while the channel is full.
type ChannelObserver chan<- ProgressUpdate

func (c ChannelObserver) Observe(u ProgressUpdate) {
	sendProgress(c, u)
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// multiObserver fans one update out to several observers.
type multiObserver []Observer

func (m multiObserver) Observe(u ProgressUpdate) {
	for _, o := range m {
		if o != nil {
			o.Observe(u)
		}
	}
}

func reconcileUpdate(job models.Job, cycle int, snap *models.StatusSnapshot, set *ReconciledSet, newly []models.ResultItem, elapsed time.Duration) ProgressUpdate {
	msg := snap.Message
	if msg == "" {
		msg = fmt.Sprintf("[%d] %s: %d/%d (+%d)", cycle, snap.Phase, snap.CompletedCount, snap.TotalCount, len(newly))
	}
	return ProgressUpdate{
		Job:           job,
		Cycle:         cycle,
		Phase:         snap.Phase,
		Completed:     snap.CompletedCount,
		Total:         snap.TotalCount,
		Percent:       snap.ProgressPercent,
		Accepted:      set.Len(),
		NewlyAccepted: models.CloneItems(newly),
		Elapsed:       elapsed,
		Message:       msg,
	}
}
