package jobs

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nclamvn/dich-tai-lieu-sub001/pkg/log"
)

type SchedulerConfig struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
}

// Scheduler is the single per-process loop that polls the store and hands
// eligible jobs to executors, at most MaxConcurrentJobs at a time.
type Scheduler struct {
	store Store
	exec  *Executor
	cfg   SchedulerConfig

	slots    *semaphore.Weighted
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

func NewScheduler(store Store, exec *Executor, cfg SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	return &Scheduler{
		store:  store,
		exec:   exec,
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		stopCh: make(chan struct{}),
	}
}

// Start resets orphaned jobs from a previous process and begins polling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	// Jobs left RUNNING/QUEUED by a crashed process have no live executor;
	// they resume from their checkpoint on the next pass.
	reset, err := s.store.ResetOrphans(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		log.Info("Reset %d orphaned job(s) for resume", reset)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts polling and waits for running executors to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain launches executors until either the eligible set or the job slots
// run out. An empty dequeue is not an error; the next tick retries.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		if !s.slots.TryAcquire(1) {
			return
		}
		job, err := s.store.DequeueNext(ctx)
		if err != nil {
			s.slots.Release(1)
			log.Error("Dequeue failed: %v", err)
			return
		}
		if job == nil {
			s.slots.Release(1)
			return
		}

		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer s.slots.Release(1)
			if err := s.exec.Execute(ctx, job); err != nil {
				log.Debug("Job %s left executor with: %v", job.ID, err)
			}
		}(job)
	}
}
