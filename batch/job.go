package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/agentgate/agentgate/api"
)

// job is a stored batch. Completed results are kept in completion order so
// Results can replay them the way they actually finished.
type job struct {
	id        string
	requests  []api.BatchRequestItem
	createdAt time.Time
	expiresAt time.Time
	done      chan struct{}

	mu                sync.Mutex
	status            api.ProcessingStatus
	endedAt           *time.Time
	cancelInitiatedAt *time.Time
	canceled          bool
	completed         []api.BatchResultLine
	counts            api.RequestCounts
}

func (j *job) complete(customID string, result api.BatchResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed = append(j.completed, api.BatchResultLine{CustomID: customID, Result: result})
	switch result.Type {
	case "succeeded":
		j.counts.Succeeded++
	case "errored":
		j.counts.Errored++
	case "canceled":
		j.counts.Canceled++
	case "expired":
		j.counts.Expired++
	}
}

// end marks the job terminal once every entry has a result.
func (j *job) end() api.RequestCounts {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.status = api.BatchEnded
	j.endedAt = &now
	close(j.done)
	return j.counts
}

// cancel flips an in-progress job to canceling. Returns false when the job
// already ended.
func (j *job) cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == api.BatchEnded || j.canceled {
		return false
	}
	now := time.Now()
	j.canceled = true
	j.cancelInitiatedAt = &now
	j.status = api.BatchCanceling
	return true
}

func (j *job) isCanceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

func (j *job) currentStatus() api.ProcessingStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// results returns the completion-order lines when the job has ended.
func (j *job) results() ([]api.BatchResultLine, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != api.BatchEnded {
		return nil, false
	}
	out := make([]api.BatchResultLine, len(j.completed))
	copy(out, j.completed)
	return out, true
}

// snapshot renders the job in Anthropic's batch shape.
func (j *job) snapshot() api.MessageBatch {
	j.mu.Lock()
	defer j.mu.Unlock()

	counts := j.counts
	counts.Processing = len(j.requests) - len(j.completed)

	b := api.MessageBatch{
		ID:                j.id,
		Type:              "message_batch",
		ProcessingStatus:  j.status,
		RequestCounts:     counts,
		CreatedAt:         j.createdAt,
		EndedAt:           j.endedAt,
		ExpiresAt:         j.expiresAt,
		CancelInitiatedAt: j.cancelInitiatedAt,
	}
	if j.status == api.BatchEnded && len(j.completed) > 0 {
		url := "/v1/messages/batches/" + j.id + "/results"
		b.ResultsURL = &url
	}
	return b
}

func sortJobsNewestFirst(jobs []*job) {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].createdAt.Equal(jobs[b].createdAt) {
			return jobs[a].id > jobs[b].id
		}
		return jobs[a].createdAt.After(jobs[b].createdAt)
	})
}

func applyCursors(jobs []*job, afterID, beforeID string) []*job {
	if afterID != "" {
		for i, j := range jobs {
			if j.id == afterID {
				jobs = jobs[i+1:]
				break
			}
		}
	}
	if beforeID != "" {
		for i, j := range jobs {
			if j.id == beforeID {
				jobs = jobs[:i]
				break
			}
		}
	}
	return jobs
}
