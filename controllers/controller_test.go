package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"teampulse/config"
	"teampulse/models"
	"teampulse/utils"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// asUser injects the authenticated user and team the way the JWT and
// team-role middlewares would.
func asUser(user *models.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", user)
		if teamID := utils.ParseUint(c.Params("teamID")); teamID != 0 {
			c.Locals("teamID", teamID)
		}
		return c.Next()
	}
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, target, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode body %s: %v", body, err)
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type reportFixture struct {
	db          *gorm.DB
	user        *models.User
	team        *models.Team
	integration *models.Integration
	resource    *models.ServiceResource
}

func seedReportFixture(t *testing.T) *reportFixture {
	t.Helper()

	db := openTestDB(t)

	user := &models.User{Email: "owner@example.com", PasswordHash: "x", IsActive: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	team := &models.Team{Name: "Core", Slug: "core", CreatedByUserID: user.ID, IsActive: true}
	if err := db.Create(team).Error; err != nil {
		t.Fatalf("create team: %v", err)
	}
	member := models.TeamMember{
		TeamID: team.ID, UserID: user.ID,
		Role: models.TeamRoleOwner, InvitationStatus: models.InvitationActive,
	}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}

	workspace := "T0TEST"
	integration := &models.Integration{
		OwnerTeamID: team.ID, ServiceType: models.ServiceSlack,
		Name: "Core Slack", WorkspaceID: &workspace,
		Status: models.IntegrationActive, CreatedByUserID: user.ID,
	}
	if err := db.Create(integration).Error; err != nil {
		t.Fatalf("create integration: %v", err)
	}

	resource := &models.ServiceResource{
		IntegrationID: integration.ID, ResourceType: models.ResourceSlackChannel,
		ExternalID: "C0TEST", Name: "general", IsSelected: true,
	}
	if err := db.Create(resource).Error; err != nil {
		t.Fatalf("create resource: %v", err)
	}

	return &reportFixture{db: db, user: user, team: team, integration: integration, resource: resource}
}

func (f *reportFixture) seedReport(t *testing.T, statuses ...models.AnalysisStatus) *models.CrossResourceReport {
	t.Helper()

	report := &models.CrossResourceReport{
		TeamID:          f.team.ID,
		Title:           "Weekly",
		PeriodStart:     time.Now().Add(-7 * 24 * time.Hour),
		PeriodEnd:       time.Now(),
		Status:          models.StatusPending,
		CreatedByUserID: f.user.ID,
	}
	if err := f.db.Create(report).Error; err != nil {
		t.Fatalf("create report: %v", err)
	}

	for _, status := range statuses {
		analysis := models.ResourceAnalysis{
			CrossResourceReportID: report.ID,
			IntegrationID:         f.integration.ID,
			ResourceID:            f.resource.ID,
			ResourceType:          f.resource.ResourceType,
			AnalysisType:          models.AnalysisContribution,
			PeriodStart:           report.PeriodStart,
			PeriodEnd:             report.PeriodEnd,
			Status:                status,
		}
		if err := f.db.Create(&analysis).Error; err != nil {
			t.Fatalf("create analysis: %v", err)
		}
	}
	return report
}
