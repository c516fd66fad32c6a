// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovod/harvestarr/internal/catalog"
)

func makeJobs(n int) []catalog.Job {
	jobs := make([]catalog.Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, catalog.Job{
			Key: catalog.Key{Channel: "c", Show: "s", Episode: fmt.Sprintf("e%d", i)},
			Candidates: []catalog.Candidate{
				{Label: "p", URL: fmt.Sprintf("https://p.example/%d", i)},
			},
		})
	}
	return jobs
}

// countingExecutor succeeds a job once its attempt count reaches the
// configured threshold, and records total attempts per job.
type countingExecutor struct {
	mu        sync.Mutex
	attempts  map[catalog.Key]int
	succeedAt map[catalog.Key]int // 0 means never
}

func (e *countingExecutor) Execute(_ context.Context, job catalog.Job) catalog.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempts == nil {
		e.attempts = make(map[catalog.Key]int)
	}
	e.attempts[job.Key]++
	at := e.succeedAt[job.Key]
	if at > 0 && e.attempts[job.Key] >= at {
		return catalog.Result{ManifestURL: "https://cdn.example/v.m3u8", Label: "p", Resolved: true}
	}
	return catalog.Result{}
}

func TestSchedulerAllSucceedFirstPass(t *testing.T) {
	jobs := makeJobs(4)
	exec := &countingExecutor{succeedAt: map[catalog.Key]int{}}
	for _, j := range jobs {
		exec.succeedAt[j.Key] = 1
	}

	ctrl := NewController(ControllerConfig{Min: 1, Initial: 5, Max: 10, Step: 1})
	s := New(ctrl, exec, 5)

	results := s.Run(context.Background(), jobs)

	require.Len(t, results, 4)
	for _, job := range jobs {
		assert.True(t, results[job.Key].Resolved, "job %s", job.Key)
		assert.Equal(t, 1, exec.attempts[job.Key])
	}
	// Fully clean pass raises the budget by one step.
	assert.Equal(t, 6, ctrl.Budget())
}

func TestSchedulerRetriesFailuresAcrossPasses(t *testing.T) {
	jobs := makeJobs(3)
	exec := &countingExecutor{succeedAt: map[catalog.Key]int{
		jobs[0].Key: 1,
		jobs[1].Key: 3, // succeeds on the third pass
		jobs[2].Key: 0, // never succeeds
	}}

	ctrl := NewController(DefaultControllerConfig())
	s := New(ctrl, exec, 5)

	results := s.Run(context.Background(), jobs)

	assert.True(t, results[jobs[0].Key].Resolved)
	assert.True(t, results[jobs[1].Key].Resolved)
	assert.False(t, results[jobs[2].Key].Resolved)

	// Succeeded jobs are removed permanently.
	assert.Equal(t, 1, exec.attempts[jobs[0].Key])
	assert.Equal(t, 3, exec.attempts[jobs[1].Key])
	// The always-failing job is attempted exactly maxPasses times.
	assert.Equal(t, 5, exec.attempts[jobs[2].Key])
}

func TestSchedulerProgressBound(t *testing.T) {
	const maxPasses = 5
	jobs := makeJobs(7)
	exec := &countingExecutor{succeedAt: map[catalog.Key]int{}} // all fail forever

	s := New(NewController(DefaultControllerConfig()), exec, maxPasses)
	results := s.Run(context.Background(), jobs)

	total := 0
	for _, n := range exec.attempts {
		total += n
	}
	assert.LessOrEqual(t, total, len(jobs)*maxPasses)
	assert.Equal(t, len(jobs)*maxPasses, total)

	for _, job := range jobs {
		res, ok := results[job.Key]
		require.True(t, ok, "unresolved job %s must still be reported", job.Key)
		assert.False(t, res.Resolved)
	}
}

func TestSchedulerHonorsBudget(t *testing.T) {
	const budget = 2
	jobs := makeJobs(10)

	var active, peak int64
	exec := ExecutorFunc(func(_ context.Context, _ catalog.Job) catalog.Result {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		atomic.AddInt64(&active, -1)
		return catalog.Result{ManifestURL: "u", Label: "p", Resolved: true}
	})

	ctrl := NewController(ControllerConfig{Min: 1, Initial: budget, Max: budget, Step: 1})
	s := New(ctrl, exec, 1)
	s.Run(context.Background(), jobs)

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(budget))
}

func TestSchedulerNoSelfConcurrency(t *testing.T) {
	jobs := makeJobs(1)

	var inFlight int32
	exec := ExecutorFunc(func(_ context.Context, _ catalog.Job) catalog.Result {
		if !atomic.CompareAndSwapInt32(&inFlight, 0, 1) {
			t.Error("job attempted concurrently with itself")
		}
		defer atomic.StoreInt32(&inFlight, 0)
		return catalog.Result{} // always fails, so every pass retries it
	})

	s := New(NewController(DefaultControllerConfig()), exec, 5)
	results := s.Run(context.Background(), jobs)
	assert.False(t, results[jobs[0].Key].Resolved)
}

func TestSchedulerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := int32(0)
	exec := ExecutorFunc(func(_ context.Context, _ catalog.Job) catalog.Result {
		atomic.AddInt32(&called, 1)
		return catalog.Result{}
	})

	s := New(NewController(DefaultControllerConfig()), exec, 5)
	results := s.Run(ctx, makeJobs(3))

	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
	require.Len(t, results, 3)
	for _, res := range results {
		assert.False(t, res.Resolved)
	}
}

func TestSchedulerPassObserver(t *testing.T) {
	jobs := makeJobs(2)
	exec := &countingExecutor{succeedAt: map[catalog.Key]int{
		jobs[0].Key: 1,
		jobs[1].Key: 2,
	}}

	var observed [][4]int
	s := New(NewController(DefaultControllerConfig()), exec, 5)
	s.SetPassObserver(func(pass, attempted, succeeded, budget int) {
		observed = append(observed, [4]int{pass, attempted, succeeded, budget})
	})
	s.Run(context.Background(), jobs)

	require.Len(t, observed, 2)
	assert.Equal(t, [4]int{1, 2, 1, 4}, observed[0]) // one failure: 5 -> 4
	assert.Equal(t, [4]int{2, 1, 1, 5}, observed[1]) // clean pass: 4 -> 5
}
