package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/nestgold/nestgold/internal/pkg/cache"
	"github.com/nestgold/nestgold/internal/pkg/env"
)

// StatusSyncer persists lapsed subscription periods as Expired.
type StatusSyncer interface {
	SyncSubscriptionStatuses(ctx context.Context) (int, error)
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue       *Queue
	syncer      StatusSyncer
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOBQUEUE_WORKERS", 5)
		globalManager = &Manager{
			queue:  NewQueue(cache.GetClient(), workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetStatusSyncer installs the periodic subscription status sweep.
func (m *Manager) SetStatusSyncer(s StatusSyncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer = s
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.syncer != nil {
		interval := env.GetEnvDuration("STATUS_SWEEP_INTERVAL", 15*time.Minute)
		m.sweepTicker = time.NewTicker(interval)
		m.wg.Add(1)
		go m.statusSweepWorker(m.syncer, m.sweepTicker, m.stopCh, interval)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// statusSweepWorker periodically writes Expired onto subscriptions whose
// paid period has ended.
func (m *Manager) statusSweepWorker(s StatusSyncer, ticker *time.Ticker, stopCh <-chan struct{}, interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started status sweep worker (interval: %s)", interval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Status sweep worker stopping")
			return
		case <-ticker.C:
			m.runStatusSweep(s)
		}
	}
}

func (m *Manager) runStatusSweep(s StatusSyncer) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.SyncSubscriptionStatuses(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Status sweep error: %v", err)
		return
	}
	if n > 0 {
		log.Infof("[JobQueue Manager] Status sweep expired %d subscriptions", n)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunStatusSweepOnce runs a single sweep now, outside the ticker.
func (m *Manager) RunStatusSweepOnce() {
	m.mu.Lock()
	s := m.syncer
	m.mu.Unlock()
	if s != nil {
		m.runStatusSweep(s)
	}
}
