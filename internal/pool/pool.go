// Package pool wraps github.com/panjf2000/ants/v2 into the bounded
// goroutine pool that fans out per-table VACUUM passes and per-table
// index rebuilds during recovery: submit N independent table-scoped
// jobs, wait for all of them.
package pool

import (
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent fan-out work at a fixed worker count.
type Pool struct {
	ants *ants.Pool
}

// New creates a pool with the given worker capacity (capacity <= 0 means
// ants' own default).
func New(capacity int) (*Pool, error) {
	if capacity <= 0 {
		capacity = ants.DefaultAntsPoolSize
	}
	p, err := ants.NewPool(capacity)
	if err != nil {
		return nil, err
	}
	return &Pool{ants: p}, nil
}

// Run executes every job concurrently, bounded by the pool's capacity,
// and returns the first error encountered (via errgroup), after every job
// has finished — mirroring the "vacuum every table, wait for the pass to
// complete" and "rebuild every table's indexes after recovery" use cases.
func (p *Pool) Run(jobs []func() error) error {
	var g errgroup.Group
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			done := make(chan error, 1)
			submitErr := p.ants.Submit(func() {
				done <- job()
			})
			if submitErr != nil {
				return submitErr
			}
			return <-done
		})
	}
	return g.Wait()
}

// Release tears down the underlying ants pool.
func (p *Pool) Release() {
	p.ants.Release()
}
