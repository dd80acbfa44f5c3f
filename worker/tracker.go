package worker

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"gorm.io/gorm"

	"teampulse/models"
)

// TaskStatus is the in-process view of an analysis run. It is not
// persisted; after a restart every id reads UNKNOWN.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskUnknown   TaskStatus = "UNKNOWN"
)

type taskHandle struct {
	cancel          context.CancelFunc
	done            chan struct{}
	cancelRequested bool
	// err is written once by the task goroutine before done is closed
	// and only read after done is closed.
	err error
}

func (h *taskHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// AnalysisTracker maps analysis ids to in-flight runs. It is an
// explicit, injectable component: constructed in main with an
// application context, handed to whoever schedules work. Tests build
// independent trackers freely.
type AnalysisTracker struct {
	db      *gorm.DB
	runner  *AnalysisRunner
	logger  *log.Logger
	baseCtx context.Context

	mu    sync.Mutex
	tasks map[string]*taskHandle
}

func NewAnalysisTracker(ctx context.Context, db *gorm.DB, runner *AnalysisRunner, logger *log.Logger) *AnalysisTracker {
	return &AnalysisTracker{
		db:      db,
		runner:  runner,
		logger:  logger,
		baseCtx: ctx,
		tasks:   make(map[string]*taskHandle),
	}
}

// Schedule starts a run for the analysis unless one is already in
// flight, and reports whether a new run was started. A finished handle
// is replaced; a live one wins over the new request.
func (t *AnalysisTracker) Schedule(analysisID uint) bool {
	id := strconv.FormatUint(uint64(analysisID), 10)

	t.mu.Lock()
	if existing, ok := t.tasks[id]; ok && !existing.finished() {
		t.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(t.baseCtx)
	handle := &taskHandle{cancel: cancel, done: make(chan struct{})}
	t.tasks[id] = handle
	t.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			// A panicking task becomes its own terminal result; it is
			// never re-raised into whoever called Schedule.
			if r := recover(); r != nil {
				handle.err = fmt.Errorf("analysis task panicked: %v", r)
				t.logger.Printf("analysis %s panicked: %v", id, r)
			}
			close(handle.done)
		}()
		handle.err = t.runner.Run(ctx, analysisID)
	}()

	return true
}

// ScheduleForReport schedules every PENDING or FAILED analysis under
// the report and returns how many new runs were started.
func (t *AnalysisTracker) ScheduleForReport(reportID uint) (int, error) {
	var analyses []models.ResourceAnalysis
	err := t.db.Where("cross_resource_report_id = ? AND status IN ?",
		reportID, []models.AnalysisStatus{models.StatusPending, models.StatusFailed}).
		Find(&analyses).Error
	if err != nil {
		return 0, err
	}

	started := 0
	for _, analysis := range analyses {
		if t.Schedule(analysis.ID) {
			started++
		}
	}

	t.logger.Printf("scheduled %d of %d analyses for report %d", started, len(analyses), reportID)
	return started, nil
}

// Status never reports COMPLETED while the task goroutine is still
// running; the handle must be closed first.
func (t *AnalysisTracker) Status(analysisID string) TaskStatus {
	t.mu.Lock()
	handle, ok := t.tasks[analysisID]
	t.mu.Unlock()

	if !ok {
		return TaskUnknown
	}
	if !handle.finished() {
		return TaskRunning
	}
	if handle.err != nil {
		return TaskFailed
	}
	return TaskCompleted
}

// Cancel requests cooperative cancellation of an unfinished run. It
// returns true only the first time it is called on a live handle.
func (t *AnalysisTracker) Cancel(analysisID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	handle, ok := t.tasks[analysisID]
	if !ok || handle.finished() || handle.cancelRequested {
		return false
	}
	handle.cancelRequested = true
	handle.cancel()
	return true
}

// ListRunning returns the tracked ids whose runs have not finished.
func (t *AnalysisTracker) ListRunning() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	running := make([]string, 0, len(t.tasks))
	for id, handle := range t.tasks {
		if !handle.finished() {
			running = append(running, id)
		}
	}
	return running
}

// Wait blocks until the run for the id finishes. It returns immediately
// for unknown ids; tests and the websocket progress loop use it.
func (t *AnalysisTracker) Wait(analysisID string) {
	t.mu.Lock()
	handle, ok := t.tasks[analysisID]
	t.mu.Unlock()

	if ok {
		<-handle.done
	}
}
