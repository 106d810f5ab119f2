package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pdftrans-go/internal/cache"
	"pdftrans-go/internal/monitoring"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// Job is a unit of background work. It receives the manager's lifetime
// context and a progress reporter; its return value is attached to the task
// record on success, its error on failure. Errors never reach the submitter
// synchronously.
type Job func(ctx context.Context, progress func(string)) (cache.Value, error)

type record struct {
	id          string
	name        string
	status      Status
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	progress    string
	result      cache.Value
	errMsg      string
}

// Snapshot is the externally visible copy of a task record.
type Snapshot struct {
	ID          string      `json:"task_id"`
	Name        string      `json:"function"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Progress    string      `json:"progress,omitempty"`
	Result      cache.Value `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		ID:          r.id,
		Name:        r.name,
		Status:      r.status,
		CreatedAt:   r.createdAt,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		Progress:    r.progress,
		Result:      r.result,
		Error:       r.errMsg,
	}
}

const taskCleanupInterval = time.Hour

// Manager accepts background work and tracks its lifecycle for polling.
// It replaces the Celery deployment: single process, in-memory records,
// goroutine per task.
type Manager struct {
	mu          sync.Mutex
	tasks       map[string]*record
	maxTasks    int
	retention   time.Duration
	lastCleanup time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewManager creates a Manager retaining at most maxTasks records for up to
// retention (defaults 1000 and 24h).
func NewManager(maxTasks int, retention time.Duration) *Manager {
	if maxTasks <= 0 {
		maxTasks = 1000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tasks:     make(map[string]*record),
		maxTasks:  maxTasks,
		retention: retention,
		baseCtx:   ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Submit records a PENDING task and schedules job off the caller's control
// flow. It returns the task id immediately.
func (m *Manager) Submit(name string, job Job) string {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	m.tasks[id] = &record{
		id:        id,
		name:      name,
		status:    StatusPending,
		createdAt: now,
	}
	m.cleanupLocked(now)
	m.mu.Unlock()

	monitoring.TasksSubmittedTotal.Inc()
	log.Infof("created task %s for %s", id, name)

	m.wg.Add(1)
	go m.execute(id, job)
	return id
}

func (m *Manager) execute(id string, job Job) {
	defer m.wg.Done()

	m.mu.Lock()
	r, ok := m.tasks[id]
	if !ok || r.status != StatusPending {
		// Cancelled before execution, or already purged by retention.
		m.mu.Unlock()
		return
	}
	started := m.now()
	r.status = StatusProcessing
	r.startedAt = &started
	m.mu.Unlock()

	log.Infof("starting task %s: %s", id, r.name)

	result, err := m.runJob(id, job)

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok = m.tasks[id]
	if !ok {
		return
	}
	completed := m.now()
	r.completedAt = &completed
	if err != nil {
		r.status = StatusFailure
		r.errMsg = err.Error()
		monitoring.TasksCompletedTotal.WithLabelValues("failure").Inc()
		log.WithError(err).Errorf("task %s failed", id)
		return
	}
	r.status = StatusSuccess
	r.result = result
	monitoring.TasksCompletedTotal.WithLabelValues("success").Inc()
	log.Infof("task %s completed successfully", id)
}

// runJob invokes job with panic capture so a misbehaving job becomes a
// FAILURE record instead of taking the process down.
func (m *Manager) runJob(id string, job Job) (result cache.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"task_id": id,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("task panicked")
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	progress := func(msg string) { m.SetProgress(id, msg) }
	return job(m.baseCtx, progress)
}

// Status returns the task's snapshot; ok is false for unknown or
// retention-expired ids, which is distinct from a still-pending task.
func (m *Manager) Status(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.snapshot(), true
}

// Cancel marks a PENDING task CANCELLED. Running and terminal tasks cannot be
// cancelled.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[id]
	if !ok || r.status != StatusPending {
		return false
	}
	completed := m.now()
	r.status = StatusCancelled
	r.completedAt = &completed
	monitoring.TasksCompletedTotal.WithLabelValues("cancelled").Inc()
	log.Infof("cancelled task %s", id)
	return true
}

// SetProgress updates the free-form progress indicator while the task is
// still live.
func (m *Manager) SetProgress(id, progress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tasks[id]
	if !ok || r.status.Terminal() {
		return
	}
	r.progress = progress
}

// Close stops accepting completions being recorded for new work and waits for
// in-flight jobs to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// cleanupLocked enforces the retention policy: drop records older than the
// retention horizon, then, if still over capacity, drop the oldest half of
// terminal records. PENDING/PROCESSING records are kept. Runs at most once
// per taskCleanupInterval; caller holds the mutex.
func (m *Manager) cleanupLocked(now time.Time) {
	if now.Sub(m.lastCleanup) < taskCleanupInterval {
		return
	}
	m.lastCleanup = now
	m.purgeLocked(now)
}

// Cleanup applies retention immediately, bypassing the interval gate.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(m.now())
}

func (m *Manager) purgeLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	removed := 0
	for id, r := range m.tasks {
		if r.createdAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}

	if len(m.tasks) > m.maxTasks {
		terminal := make([]*record, 0, len(m.tasks))
		for _, r := range m.tasks {
			if r.status == StatusSuccess || r.status == StatusFailure {
				terminal = append(terminal, r)
			}
		}
		sort.Slice(terminal, func(i, j int) bool {
			ti, tj := terminal[i].completedAt, terminal[j].completedAt
			if ti == nil || tj == nil {
				return tj != nil
			}
			return ti.Before(*tj)
		})
		for _, r := range terminal[:len(terminal)/2] {
			delete(m.tasks, r.id)
			removed++
		}
	}

	monitoring.TasksInMemoryGauge.Set(float64(len(m.tasks)))
	if removed > 0 {
		log.Infof("cleaned up %d old tasks", removed)
	}
}

// Stats aggregates task counts by state.
type Stats struct {
	Total       int     `json:"total_tasks"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats returns aggregate counts over retained records.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	s.Total = len(m.tasks)
	for _, r := range m.tasks {
		switch r.status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusSuccess:
			s.Completed++
		case StatusFailure:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	finished := s.Completed + s.Failed
	if finished == 0 {
		finished = 1
	}
	s.SuccessRate = float64(s.Completed) / float64(finished)
	return s
}
