package controller

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"teampulse/models"
)

func teamTestApp(f *reportFixture) *fiber.App {
	tc := NewTeamController(f.db, testLogger())

	auth := asUser(f.user)

	app := fiber.New()
	app.Post("/teams", auth, tc.CreateTeam)
	app.Get("/teams", auth, tc.GetTeams)
	app.Delete("/teams/:teamID", auth, tc.DeleteTeam)
	app.Post("/teams/:teamID/members", auth, tc.AddMember)
	app.Put("/teams/:teamID/members/:memberID/role", auth, tc.UpdateMemberRole)
	app.Delete("/teams/:teamID/members/:memberID", auth, tc.RemoveMember)
	return app
}

func TestCreateTeamSlugCollision(t *testing.T) {
	f := seedReportFixture(t)
	app := teamTestApp(f)

	for i := 0; i < 2; i++ {
		req := jsonRequest(t, http.MethodPost, "/teams", fiber.Map{"name": "Data Platform"})
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
	}

	var slugs []string
	f.db.Model(&models.Team{}).Where("name = ?", "Data Platform").Pluck("slug", &slugs)
	if len(slugs) != 2 || slugs[0] == slugs[1] {
		t.Fatalf("slugs = %v, want two distinct slugs", slugs)
	}
	if slugs[0] != "data-platform" {
		t.Errorf("first slug = %q, want data-platform", slugs[0])
	}

	// Creator becomes the owner.
	var member models.TeamMember
	err := f.db.Where("user_id = ? AND role = ?", f.user.ID, models.TeamRoleOwner).
		Order("id DESC").First(&member).Error
	if err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
}

func TestLastOwnerProtection(t *testing.T) {
	f := seedReportFixture(t)
	app := teamTestApp(f)

	var ownerMember models.TeamMember
	if err := f.db.Where("team_id = ? AND user_id = ?", f.team.ID, f.user.ID).
		First(&ownerMember).Error; err != nil {
		t.Fatalf("load owner membership: %v", err)
	}

	req := jsonRequest(t, http.MethodPut,
		fmt.Sprintf("/teams/%d/members/%d/role", f.team.ID, ownerMember.ID),
		fiber.Map{"role": "member"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("demote last owner: status = %d, want 400", resp.StatusCode)
	}

	req = jsonRequest(t, http.MethodDelete,
		fmt.Sprintf("/teams/%d/members/%d", f.team.ID, ownerMember.ID), nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("remove last owner: status = %d, want 400", resp.StatusCode)
	}

	// With a second owner the demotion goes through.
	second := models.User{Email: "second@example.com", PasswordHash: "x", IsActive: true}
	if err := f.db.Create(&second).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := f.db.Create(&models.TeamMember{
		TeamID: f.team.ID, UserID: second.ID,
		Role: models.TeamRoleOwner, InvitationStatus: models.InvitationActive,
	}).Error; err != nil {
		t.Fatalf("create second owner: %v", err)
	}

	req = jsonRequest(t, http.MethodPut,
		fmt.Sprintf("/teams/%d/members/%d/role", f.team.ID, ownerMember.ID),
		fiber.Map{"role": "member"})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("demote with second owner: status = %d, want 200", resp.StatusCode)
	}
}

func TestAddMemberDuplicate(t *testing.T) {
	f := seedReportFixture(t)
	app := teamTestApp(f)

	invitee := models.User{Email: "new@example.com", PasswordHash: "x", IsActive: true}
	if err := f.db.Create(&invitee).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	target := fmt.Sprintf("/teams/%d/members", f.team.ID)
	body := fiber.Map{"email": "new@example.com", "role": "member"}

	resp, err := app.Test(jsonRequest(t, http.MethodPost, target, body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	resp, err = app.Test(jsonRequest(t, http.MethodPost, target, body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate add: status = %d, want 409", resp.StatusCode)
	}

	var team models.Team
	if err := f.db.First(&team, f.team.ID).Error; err != nil {
		t.Fatalf("reload team: %v", err)
	}
	if team.TeamSize != 1 {
		t.Errorf("team_size = %d, want 1 (seeded size 0 + one add)", team.TeamSize)
	}
}

func TestDeleteTeamCascades(t *testing.T) {
	f := seedReportFixture(t)
	app := teamTestApp(f)
	report := f.seedReport(t, models.StatusPending, models.StatusCompleted)

	credential := models.IntegrationCredential{
		IntegrationID: f.integration.ID, CredentialType: models.CredentialOAuthToken,
		EncryptedValue: "opaque",
	}
	if err := f.db.Create(&credential).Error; err != nil {
		t.Fatalf("create credential: %v", err)
	}

	req := jsonRequest(t, http.MethodDelete, fmt.Sprintf("/teams/%d", f.team.ID), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var reports, analyses, integrations, credentials, resources int64
	f.db.Model(&models.CrossResourceReport{}).Where("id = ?", report.ID).Count(&reports)
	f.db.Model(&models.ResourceAnalysis{}).Where("cross_resource_report_id = ?", report.ID).Count(&analyses)
	f.db.Model(&models.Integration{}).Where("id = ?", f.integration.ID).Count(&integrations)
	f.db.Model(&models.IntegrationCredential{}).Where("integration_id = ?", f.integration.ID).Count(&credentials)
	f.db.Model(&models.ServiceResource{}).Where("integration_id = ?", f.integration.ID).Count(&resources)

	for name, count := range map[string]int64{
		"reports": reports, "analyses": analyses, "integrations": integrations,
		"credentials": credentials, "resources": resources,
	} {
		if count != 0 {
			t.Errorf("%s surviving team deletion = %d, want 0", name, count)
		}
	}

	// The team itself is deactivated and soft-deleted.
	var teams int64
	f.db.Model(&models.Team{}).Where("id = ?", f.team.ID).Count(&teams)
	if teams != 0 {
		t.Error("deleted team still visible in the default scope")
	}
}
