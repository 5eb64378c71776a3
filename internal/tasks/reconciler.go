package tasks

import (
	"github.com/charmbracelet/log"
	"github.com/desertthunder/collectx/internal/models"
	"github.com/desertthunder/collectx/internal/shared"
)

// ReconciledSet is the deduplicated, insertion-ordered result set of one job.
//
// The first item seen for a record id wins; accepted items are never replaced or mutated.
type ReconciledSet struct {
	items   []models.ResultItem
	index   map[string]int
	dropped int
}

func NewReconciledSet() *ReconciledSet {
	return &ReconciledSet{index: make(map[string]int)}
}

func (s *ReconciledSet) Len() int { return len(s.items) }

// Dropped counts items rejected because the set had reached the job's total count.
func (s *ReconciledSet) Dropped() int { return s.dropped }

func (s *ReconciledSet) Has(recordID string) bool {
	_, ok := s.index[recordID]
	return ok
}

// Get returns a copy of the item accepted for recordID.
func (s *ReconciledSet) Get(recordID string) (models.ResultItem, bool) {
	i, ok := s.index[recordID]
	if !ok {
		return models.ResultItem{}, false
	}
	return s.items[i].Clone(), true
}

// Items returns copies of the accepted items in arrival order.
func (s *ReconciledSet) Items() []models.ResultItem {
	return models.CloneItems(s.items)
}

// accept appends items that are new, non-empty and within bound. bound <= 0 means unbounded.
func (s *ReconciledSet) accept(items []models.ResultItem, bound int) (newly []models.ResultItem, overflow int) {
	for _, it := range items {
		if it.RecordID == "" {
			continue
		}
		if _, seen := s.index[it.RecordID]; seen {
			continue
		}
		if bound > 0 && len(s.items) >= bound {
			overflow++
			continue
		}
		it = it.Clone()
		s.index[it.RecordID] = len(s.items)
		s.items = append(s.items, it)
		newly = append(newly, it.Clone())
	}
	s.dropped += overflow
	return newly, overflow
}

// Reconciler merges status snapshots into a [ReconciledSet].
type Reconciler struct {
	logger *log.Logger
}

func NewReconciler(logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Reconciler{logger: logger}
}

// Merge folds snap's partial results into existing and returns the set together with the items accepted
// by this call, in arrival order.
//
// existing is updated in place; a nil existing starts a new set. Merging the same snapshot twice
// accepts nothing the second time.
func (r *Reconciler) Merge(existing *ReconciledSet, snap *models.StatusSnapshot) (*ReconciledSet, []models.ResultItem) {
	if existing == nil {
		existing = NewReconciledSet()
	}
	if snap == nil {
		return existing, nil
	}
	return existing, r.MergeItems(existing, snap.PartialResults, snap.TotalCount, snap.JobID)
}

// MergeItems accepts items directly, bounded by total when it is positive.
func (r *Reconciler) MergeItems(set *ReconciledSet, items []models.ResultItem, total int, jobID string) []models.ResultItem {
	newly, overflow := set.accept(items, total)
	if overflow > 0 {
		r.logger.Warn("dropped results beyond total count", "job", jobID, "overflow", overflow, "total", total)
	}
	return newly
}

// IsTerminal reports whether snap ends polling.
func (r *Reconciler) IsTerminal(snap *models.StatusSnapshot) bool {
	return snap != nil && snap.Phase.Terminal()
}
