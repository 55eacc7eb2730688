package cron

import "context"

// Job is one unit of sweeper work. Run must be safe to repeat: a cycle that
// dies halfway is simply retried by the next one.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry is the ordered job list a sweep cycle walks.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register appends job and reports whether it was added. Nil jobs and names
// already registered are ignored.
func (r *Registry) Register(job Job) bool {
	if job == nil {
		return false
	}
	if _, dup := r.names[job.Name()]; dup {
		return false
	}
	r.names[job.Name()] = struct{}{}
	r.jobs = append(r.jobs, job)
	return true
}

func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}
