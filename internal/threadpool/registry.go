package threadpool

import (
	"sort"
	"sync"

	"github.com/djlord-it/schedbench/internal/domain"
)

// Registry maps job types to executable jobs.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]domain.Job)}
}

// Register binds job to jobType, replacing any previous binding.
func (r *Registry) Register(jobType string, job domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobType] = job
}

func (r *Registry) Lookup(jobType string) (domain.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobType]
	return job, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.jobs))
	for t := range r.jobs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
