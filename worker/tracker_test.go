package worker

import (
	"context"
	"io"
	"log"
	"strconv"
	"testing"
	"time"

	"teampulse/models"
)

func testTracker(t *testing.T, slack *stubSlack, llm *stubLLM) (*AnalysisTracker, *models.ResourceAnalysis) {
	t.Helper()

	db := openTestDB(t)
	analysis := seedAnalysis(t, db)
	runner := NewAnalysisRunner(db, slack, llm, nil)
	tracker := NewAnalysisTracker(context.Background(), db, runner, log.New(io.Discard, "", 0))
	return tracker, analysis
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func TestScheduleRejectsLiveDuplicate(t *testing.T) {
	slack := &stubSlack{block: true}
	tracker, analysis := testTracker(t, slack, &stubLLM{})

	if !tracker.Schedule(analysis.ID) {
		t.Fatal("first Schedule should start a run")
	}
	if tracker.Schedule(analysis.ID) {
		t.Fatal("second Schedule must be rejected while the run is live")
	}

	id := idString(analysis.ID)
	if got := tracker.Status(id); got != TaskRunning {
		t.Fatalf("Status = %s, want RUNNING", got)
	}

	running := tracker.ListRunning()
	if len(running) != 1 || running[0] != id {
		t.Fatalf("ListRunning = %v, want [%s]", running, id)
	}

	if !tracker.Cancel(id) {
		t.Fatal("Cancel on a live run should return true")
	}
	if tracker.Cancel(id) {
		t.Fatal("Cancel must return true only once per run")
	}

	tracker.Wait(id)
	if got := tracker.Status(id); got != TaskFailed {
		t.Fatalf("Status after cancellation = %s, want FAILED", got)
	}
	if len(tracker.ListRunning()) != 0 {
		t.Fatal("ListRunning should be empty after the run finished")
	}
}

func TestStatusUnknownForUntrackedID(t *testing.T) {
	tracker, _ := testTracker(t, &stubSlack{stats: someStats()}, &stubLLM{text: "ok"})

	if got := tracker.Status("9999"); got != TaskUnknown {
		t.Fatalf("Status = %s, want UNKNOWN", got)
	}
	if tracker.Cancel("9999") {
		t.Fatal("Cancel on an untracked id should return false")
	}
}

func TestScheduleReplacesFinishedRun(t *testing.T) {
	slack := &stubSlack{stats: someStats()}
	tracker, analysis := testTracker(t, slack, &stubLLM{text: "#SUMMARY\nfine"})

	id := idString(analysis.ID)
	if !tracker.Schedule(analysis.ID) {
		t.Fatal("Schedule failed")
	}
	tracker.Wait(id)
	if got := tracker.Status(id); got != TaskCompleted {
		t.Fatalf("Status = %s, want COMPLETED", got)
	}

	if !tracker.Schedule(analysis.ID) {
		t.Fatal("Schedule after a finished run should start a new one")
	}
	tracker.Wait(id)
}

func TestScheduleForReport(t *testing.T) {
	slack := &stubSlack{stats: someStats()}
	llm := &stubLLM{text: "#SUMMARY\nbusy week"}
	db := openTestDB(t)
	first := seedAnalysis(t, db)

	// A sibling in FAILED is rescheduled, a COMPLETED one is not.
	second := models.ResourceAnalysis{
		CrossResourceReportID: first.CrossResourceReportID,
		IntegrationID:         first.IntegrationID,
		ResourceID:            first.ResourceID,
		ResourceType:          first.ResourceType,
		AnalysisType:          models.AnalysisTopics,
		PeriodStart:           first.PeriodStart,
		PeriodEnd:             first.PeriodEnd,
		Status:                models.StatusFailed,
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("create sibling: %v", err)
	}
	done := models.ResourceAnalysis{
		CrossResourceReportID: first.CrossResourceReportID,
		IntegrationID:         first.IntegrationID,
		ResourceID:            first.ResourceID,
		ResourceType:          first.ResourceType,
		AnalysisType:          models.AnalysisActivity,
		PeriodStart:           first.PeriodStart,
		PeriodEnd:             first.PeriodEnd,
		Status:                models.StatusCompleted,
	}
	if err := db.Create(&done).Error; err != nil {
		t.Fatalf("create completed sibling: %v", err)
	}

	runner := NewAnalysisRunner(db, slack, llm, nil)
	tracker := NewAnalysisTracker(context.Background(), db, runner, log.New(io.Discard, "", 0))

	started, err := tracker.ScheduleForReport(first.CrossResourceReportID)
	if err != nil {
		t.Fatalf("ScheduleForReport: %v", err)
	}
	if started != 2 {
		t.Fatalf("started = %d, want 2", started)
	}

	tracker.Wait(idString(first.ID))
	tracker.Wait(idString(second.ID))

	for _, id := range []uint{first.ID, second.ID} {
		var got models.ResourceAnalysis
		if err := db.First(&got, id).Error; err != nil {
			t.Fatalf("reload analysis %d: %v", id, err)
		}
		if got.Status != models.StatusCompleted {
			t.Errorf("analysis %d status = %s, want COMPLETED", id, got.Status)
		}
	}
}

func TestScheduleForReportListsLiveRuns(t *testing.T) {
	slack := &stubSlack{block: true}
	db := openTestDB(t)
	first := seedAnalysis(t, db)
	second := models.ResourceAnalysis{
		CrossResourceReportID: first.CrossResourceReportID,
		IntegrationID:         first.IntegrationID,
		ResourceID:            first.ResourceID,
		ResourceType:          first.ResourceType,
		AnalysisType:          models.AnalysisSentiment,
		PeriodStart:           first.PeriodStart,
		PeriodEnd:             first.PeriodEnd,
		Status:                models.StatusPending,
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("create sibling: %v", err)
	}

	runner := NewAnalysisRunner(db, slack, &stubLLM{}, nil)
	tracker := NewAnalysisTracker(context.Background(), db, runner, log.New(io.Discard, "", 0))

	started, err := tracker.ScheduleForReport(first.CrossResourceReportID)
	if err != nil {
		t.Fatalf("ScheduleForReport: %v", err)
	}
	if started != 2 {
		t.Fatalf("started = %d, want 2", started)
	}

	running := tracker.ListRunning()
	if len(running) != 2 {
		t.Fatalf("ListRunning = %v, want both analyses", running)
	}
	seen := map[string]bool{}
	for _, id := range running {
		seen[id] = true
	}
	if !seen[idString(first.ID)] || !seen[idString(second.ID)] {
		t.Fatalf("ListRunning = %v, missing an id", running)
	}

	for _, id := range running {
		tracker.Cancel(id)
		tracker.Wait(id)
	}
}

func TestPanicBecomesTerminalFailure(t *testing.T) {
	slack := &stubSlack{stats: someStats()}
	tracker, analysis := testTracker(t, slack, &stubLLM{panic: true})

	id := idString(analysis.ID)
	if !tracker.Schedule(analysis.ID) {
		t.Fatal("Schedule failed")
	}
	tracker.Wait(id)

	if got := tracker.Status(id); got != TaskFailed {
		t.Fatalf("Status = %s, want FAILED after a panicking run", got)
	}

	// The tracker itself must stay usable.
	if !tracker.Schedule(analysis.ID) {
		t.Fatal("Schedule after a panicked run should start a new one")
	}
	tracker.Wait(id)
}

func TestStatusNeverCompletedWhileRunning(t *testing.T) {
	slack := &stubSlack{block: true}
	tracker, analysis := testTracker(t, slack, &stubLLM{})

	id := idString(analysis.ID)
	tracker.Schedule(analysis.ID)

	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case <-deadline:
			tracker.Cancel(id)
			tracker.Wait(id)
			return
		default:
			if got := tracker.Status(id); got == TaskCompleted {
				t.Fatal("Status reported COMPLETED while the run was live")
			}
		}
	}
}
