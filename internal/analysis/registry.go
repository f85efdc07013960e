package analysis

import (
	"sort"
	"sync"
)

// Registry tracks live jobs in memory. Persistence is the repository's
// concern; the registry is the source of truth for progress polling while a
// job runs and after it finishes, for the lifetime of the process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns all jobs, newest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i].Snapshot(), jobs[j].Snapshot()
		if a.StartedAt.Equal(b.StartedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return a.StartedAt.After(b.StartedAt)
	})
	return jobs
}
