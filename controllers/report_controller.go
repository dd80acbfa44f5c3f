package controller

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"teampulse/models"
	"teampulse/utils"
	"teampulse/worker"
)

type ReportController struct {
	DB      *gorm.DB
	Logger  *log.Logger
	Tracker *worker.AnalysisTracker
}

func NewReportController(db *gorm.DB, tracker *worker.AnalysisTracker, logger *log.Logger) *ReportController {
	return &ReportController{
		DB:      db,
		Logger:  logger,
		Tracker: tracker,
	}
}

type ReportResourceRequest struct {
	IntegrationID uint                `json:"integration_id" validate:"required"`
	ResourceID    uint                `json:"resource_id" validate:"required"`
	AnalysisType  models.AnalysisType `json:"analysis_type"`
}

type CreateReportRequest struct {
	Title       string                  `json:"title" validate:"required,max=200"`
	Description string                  `json:"description" validate:"omitempty,max=1000"`
	PeriodStart time.Time               `json:"period_start" validate:"required"`
	PeriodEnd   time.Time               `json:"period_end" validate:"required"`
	Resources   []ReportResourceRequest `json:"resources" validate:"omitempty,dive"`
}

type CreateAnalysisRequest struct {
	IntegrationID uint                `json:"integration_id" validate:"required"`
	ResourceID    uint                `json:"resource_id" validate:"required"`
	AnalysisType  models.AnalysisType `json:"analysis_type"`
}

// CreateReport creates a report and, when resources are supplied, its
// initial pending analyses in one transaction. Any unresolvable
// resource aborts the whole request so nothing is persisted.
func (rc *ReportController) CreateReport(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	teamID, _ := c.Locals("teamID").(uint)

	var req CreateReportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "period_end must be after period_start",
		})
	}

	// Requests arriving without a team in the path (workspace-originated
	// installs) fall back to the owner team of the first referenced
	// integration. A report that resolves to no team at all is a
	// configuration error and nothing is persisted.
	if teamID == 0 {
		for _, res := range req.Resources {
			var integration models.Integration
			if err := rc.DB.First(&integration, res.IntegrationID).Error; err == nil {
				teamID = integration.OwnerTeamID
				break
			}
		}
		if teamID == 0 {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Report cannot be associated with a team",
			})
		}
	}

	report := models.CrossResourceReport{
		TeamID:          teamID,
		Title:           req.Title,
		Description:     req.Description,
		PeriodStart:     req.PeriodStart,
		PeriodEnd:       req.PeriodEnd,
		Status:          models.StatusPending,
		CreatedByUserID: user.ID,
	}

	tx := rc.DB.Begin()
	if err := tx.Create(&report).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create report",
		})
	}

	for _, res := range req.Resources {
		analysis, err := rc.buildAnalysis(tx, teamID, report, res.IntegrationID, res.ResourceID, res.AnalysisType)
		if err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if err := tx.Create(analysis).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create analyses",
			})
		}
	}
	tx.Commit()

	if err := rc.DB.Preload("Analyses").First(&report, report.ID).Error; err != nil {
		rc.Logger.Printf("Failed to reload report %d: %v", report.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Report created successfully",
		"report":  report,
	})
}

func (rc *ReportController) GetReports(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var reports []models.CrossResourceReport
	err := rc.DB.Where("team_id = ?", teamID).
		Order("created_at DESC").
		Find(&reports).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch reports",
		})
	}

	return c.JSON(reports)
}

// GetReport returns the report with its analyses plus a rollup of
// child statuses. The rollup is computed here, not stored.
func (rc *ReportController) GetReport(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	reportID := utils.ParseUint(c.Params("reportID"))

	var report models.CrossResourceReport
	err := rc.DB.Preload("Analyses").
		Where("id = ? AND team_id = ?", reportID, teamID).
		First(&report).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Report not found",
		})
	}

	summary := map[models.AnalysisStatus]int{}
	for _, analysis := range report.Analyses {
		summary[analysis.Status]++
	}

	return c.JSON(fiber.Map{
		"report":         report,
		"status_summary": summary,
	})
}

// DeleteReport removes the report and every analysis under it.
func (rc *ReportController) DeleteReport(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	reportID := utils.ParseUint(c.Params("reportID"))

	var report models.CrossResourceReport
	if err := rc.DB.Where("id = ? AND team_id = ?", reportID, teamID).
		First(&report).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Report not found",
		})
	}

	tx := rc.DB.Begin()
	if err := tx.Where("cross_resource_report_id = ?", report.ID).
		Delete(&models.ResourceAnalysis{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete analyses",
		})
	}
	if err := tx.Delete(&report).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete report",
		})
	}
	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Report deleted successfully",
	})
}

// CreateAnalysis adds one pending analysis to an existing report.
func (rc *ReportController) CreateAnalysis(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	reportID := utils.ParseUint(c.Params("reportID"))

	var req CreateAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var report models.CrossResourceReport
	if err := rc.DB.Where("id = ? AND team_id = ?", reportID, teamID).
		First(&report).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Report not found",
		})
	}

	analysis, err := rc.buildAnalysis(rc.DB, teamID, report, req.IntegrationID, req.ResourceID, req.AnalysisType)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := rc.DB.Create(analysis).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create analysis",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Analysis created successfully",
		"analysis": analysis,
	})
}

func (rc *ReportController) GetAnalysis(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	analysisID := utils.ParseUint(c.Params("analysisID"))

	analysis, err := rc.teamAnalysis(teamID, analysisID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Analysis not found",
		})
	}

	return c.JSON(analysis)
}

// RunAnalysis schedules an asynchronous run. A second request while a
// run is live is rejected rather than queued.
func (rc *ReportController) RunAnalysis(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	analysisID := utils.ParseUint(c.Params("analysisID"))

	analysis, err := rc.teamAnalysis(teamID, analysisID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Analysis not found",
		})
	}

	if !rc.Tracker.Schedule(analysis.ID) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Analysis is already running",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":     "Analysis scheduled",
		"analysis_id": analysis.ID,
		"task_status": worker.TaskRunning,
	})
}

// RunReport schedules every runnable analysis under the report.
func (rc *ReportController) RunReport(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	reportID := utils.ParseUint(c.Params("reportID"))

	var report models.CrossResourceReport
	if err := rc.DB.Where("id = ? AND team_id = ?", reportID, teamID).
		First(&report).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Report not found",
		})
	}

	scheduled, err := rc.Tracker.ScheduleForReport(report.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to schedule report analyses",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":   "Report scheduled",
		"scheduled": scheduled,
	})
}

// GetAnalysisTask reports the in-process run status for an analysis.
func (rc *ReportController) GetAnalysisTask(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	analysisID := utils.ParseUint(c.Params("analysisID"))

	if _, err := rc.teamAnalysis(teamID, analysisID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Analysis not found",
		})
	}

	status := rc.Tracker.Status(strconv.FormatUint(uint64(analysisID), 10))
	return c.JSON(fiber.Map{
		"analysis_id": analysisID,
		"task_status": status,
	})
}

// CancelAnalysisTask requests cancellation of a live run.
func (rc *ReportController) CancelAnalysisTask(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	analysisID := utils.ParseUint(c.Params("analysisID"))

	if _, err := rc.teamAnalysis(teamID, analysisID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Analysis not found",
		})
	}

	cancelled := rc.Tracker.Cancel(strconv.FormatUint(uint64(analysisID), 10))
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Analysis has no cancellable run",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Cancellation requested",
	})
}

// ListRunningTasks lists the analysis IDs with live runs team-wide.
func (rc *ReportController) ListRunningTasks(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	running := rc.Tracker.ListRunning()
	if len(running) == 0 {
		return c.JSON(fiber.Map{"running": []string{}})
	}

	// Filter to this team's analyses.
	ids := make([]uint, 0, len(running))
	for _, id := range running {
		ids = append(ids, utils.ParseUint(id))
	}
	var owned []uint
	err := rc.DB.Model(&models.ResourceAnalysis{}).
		Joins("JOIN cross_resource_reports ON cross_resource_reports.id = resource_analyses.cross_resource_report_id").
		Where("resource_analyses.id IN ? AND cross_resource_reports.team_id = ?", ids, teamID).
		Pluck("resource_analyses.id", &owned).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list running analyses",
		})
	}

	result := make([]string, 0, len(owned))
	for _, id := range owned {
		result = append(result, strconv.FormatUint(uint64(id), 10))
	}
	return c.JSON(fiber.Map{"running": result})
}

type analysisProgress struct {
	AnalysisID uint                  `json:"analysis_id"`
	Status     models.AnalysisStatus `json:"status"`
	TaskStatus worker.TaskStatus     `json:"task_status"`
}

// HandleReportProgressWS streams analysis statuses for a report until
// every analysis reaches a terminal state.
func (rc *ReportController) HandleReportProgressWS(c *websocket.Conn) {
	defer c.Close()

	teamID, ok := c.Locals("teamID").(uint)
	if !ok {
		return
	}
	reportID := utils.ParseUint(c.Params("reportID"))

	var report models.CrossResourceReport
	err := rc.DB.Where("id = ? AND team_id = ?", reportID, teamID).
		First(&report).Error
	if err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "Report not found"})
		return
	}

	for {
		var analyses []models.ResourceAnalysis
		err := rc.DB.Where("cross_resource_report_id = ?", report.ID).
			Find(&analyses).Error
		if err != nil {
			rc.Logger.Printf("Progress query failed for report %d: %v", report.ID, err)
			return
		}

		updates := make([]analysisProgress, 0, len(analyses))
		allTerminal := true
		for _, analysis := range analyses {
			if !analysis.Status.Terminal() {
				allTerminal = false
			}
			updates = append(updates, analysisProgress{
				AnalysisID: analysis.ID,
				Status:     analysis.Status,
				TaskStatus: rc.Tracker.Status(strconv.FormatUint(uint64(analysis.ID), 10)),
			})
		}

		if err := c.WriteJSON(fiber.Map{
			"report_id": report.ID,
			"analyses":  updates,
			"done":      allTerminal,
		}); err != nil {
			return
		}
		if allTerminal {
			return
		}
		time.Sleep(2 * time.Second)
	}
}

// buildAnalysis resolves an integration/resource pair against the team
// and returns an unsaved pending analysis for the report's period.
func (rc *ReportController) buildAnalysis(db *gorm.DB, teamID uint, report models.CrossResourceReport,
	integrationID, resourceID uint, analysisType models.AnalysisType) (*models.ResourceAnalysis, error) {

	var integration models.Integration
	if err := db.First(&integration, integrationID).Error; err != nil {
		return nil, fmt.Errorf("integration %d not found", integrationID)
	}
	if integration.OwnerTeamID != teamID {
		var count int64
		err := db.Model(&models.IntegrationShare{}).
			Where("integration_id = ? AND team_id = ? AND status = ?",
				integrationID, teamID, models.ShareActive).
			Count(&count).Error
		if err != nil || count == 0 {
			return nil, fmt.Errorf("integration %d is not available to this team", integrationID)
		}
	}

	var resource models.ServiceResource
	err := db.Where("id = ? AND integration_id = ?", resourceID, integrationID).
		First(&resource).Error
	if err != nil {
		return nil, fmt.Errorf("resource %d not found under integration %d", resourceID, integrationID)
	}

	if analysisType == "" {
		analysisType = models.AnalysisContribution
	}
	if !analysisType.Valid() {
		return nil, fmt.Errorf("invalid analysis type %q", analysisType)
	}

	return &models.ResourceAnalysis{
		CrossResourceReportID: report.ID,
		IntegrationID:         integration.ID,
		ResourceID:            resource.ID,
		ResourceType:          resource.ResourceType,
		AnalysisType:          analysisType,
		PeriodStart:           report.PeriodStart,
		PeriodEnd:             report.PeriodEnd,
		Status:                models.StatusPending,
	}, nil
}

// teamAnalysis loads an analysis and checks it belongs to the team via
// its report.
func (rc *ReportController) teamAnalysis(teamID, analysisID uint) (*models.ResourceAnalysis, error) {
	var analysis models.ResourceAnalysis
	err := rc.DB.Joins("JOIN cross_resource_reports ON cross_resource_reports.id = resource_analyses.cross_resource_report_id").
		Where("resource_analyses.id = ? AND cross_resource_reports.team_id = ?", analysisID, teamID).
		First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}
