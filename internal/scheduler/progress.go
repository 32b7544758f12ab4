package scheduler

import (
	"sync"
	"time"
)

// Progress is the live view of a campaign execution served by the status
// action.
type Progress struct {
	ExecutionID string     `json:"execution_id"`
	Running     bool       `json:"running"`
	Selected    int        `json:"selected"`
	Processed   int        `json:"processed"`
	Contacted   int        `json:"contacted"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type Registry struct {
	mu   sync.RWMutex
	runs map[int]*Progress
}

func NewRegistry() *Registry {
	return &Registry{runs: map[int]*Progress{}}
}

func (r *Registry) Start(campaignID int, executionID string, selected int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[campaignID] = &Progress{
		ExecutionID: executionID,
		Running:     true,
		Selected:    selected,
		StartedAt:   at,
	}
}

func (r *Registry) Record(campaignID int, o LeadOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.runs[campaignID]
	if !ok {
		return
	}
	p.Processed++
	switch o.Kind {
	case OutcomeContacted:
		p.Contacted++
	case OutcomeSkipped:
		p.Skipped++
	case OutcomeFailed:
		p.Failed++
	}
}

func (r *Registry) Finish(campaignID int, result *ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.runs[campaignID]
	if !ok || p.ExecutionID != result.ExecutionID {
		p = &Progress{ExecutionID: result.ExecutionID, StartedAt: result.StartedAt}
		r.runs[campaignID] = p
	}
	finished := result.FinishedAt
	p.Running = false
	p.FinishedAt = &finished
	p.Selected = result.Selected
	p.Processed = len(result.Outcomes)
	p.Contacted = result.Contacted
	p.Skipped = result.Skipped
	p.Failed = result.Failed
}

func (r *Registry) Get(campaignID int) (Progress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.runs[campaignID]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}
