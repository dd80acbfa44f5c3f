package controller

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"teampulse/middleware"
	"teampulse/models"
	"teampulse/utils"
)

type TeamController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTeamController(db *gorm.DB, logger *log.Logger) *TeamController {
	return &TeamController{
		DB:     db,
		Logger: logger,
	}
}

type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"omitempty,max=500"`
	AvatarURL   string `json:"avatar_url"`
	IsPersonal  bool   `json:"is_personal"`
	Metadata    string `json:"metadata"`
}

type UpdateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	AvatarURL   *string `json:"avatar_url"`
	Metadata    *string `json:"metadata"`
}

type AddMemberRequest struct {
	Email string          `json:"email" validate:"required,email"`
	Role  models.TeamRole `json:"role" validate:"required"`
}

type UpdateMemberRoleRequest struct {
	Role models.TeamRole `json:"role" validate:"required"`
}

// CreateTeam creates a team and makes the creator its owner.
func (tc *TeamController) CreateTeam(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateTeamRequest
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

	slug, err := tc.uniqueSlug(req.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate team slug",
		})
	}

	team := models.Team{
		Name:            req.Name,
		Slug:            slug,
		Description:     req.Description,
		AvatarURL:       req.AvatarURL,
		IsPersonal:      req.IsPersonal,
		Metadata:        req.Metadata,
		TeamSize:        1,
		IsActive:        true,
		CreatedByUserID: user.ID,
	}

	tx := tc.DB.Begin()
	if err := tx.Create(&team).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create team",
		})
	}

	member := models.TeamMember{
		TeamID:           team.ID,
		UserID:           user.ID,
		Role:             models.TeamRoleOwner,
		InvitationStatus: models.InvitationActive,
	}
	if err := tx.Create(&member).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create team membership",
		})
	}

	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Team created successfully",
		"team":    team,
	})
}

// GetTeams lists active teams the user belongs to.
func (tc *TeamController) GetTeams(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var teams []models.Team
	err := tc.DB.Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ? AND team_members.invitation_status = ? AND team_members.deleted_at IS NULL",
			user.ID, models.InvitationActive).
		Where("teams.is_active = ?", true).
		Find(&teams).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch teams",
		})
	}

	return c.JSON(teams)
}

// GetTeam returns a single team with its members.
func (tc *TeamController) GetTeam(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var team models.Team
	if err := tc.DB.Preload("Members").First(&team, teamID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team not found",
		})
	}

	return c.JSON(team)
}

func (tc *TeamController) UpdateTeam(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var req UpdateTeamRequest
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

	var team models.Team
	if err := tc.DB.First(&team, teamID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team not found",
		})
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if req.Metadata != nil {
		updates["metadata"] = *req.Metadata
	}

	if len(updates) > 0 {
		if err := tc.DB.Model(&team).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update team",
			})
		}
	}

	return c.JSON(fiber.Map{
		"message": "Team updated successfully",
		"team":    team,
	})
}

// DeleteTeam deactivates a team and removes everything it owns:
// reports with their analyses, integrations with credentials and
// shares. Tenant data never outlives its team.
func (tc *TeamController) DeleteTeam(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var team models.Team
	if err := tc.DB.First(&team, teamID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team not found",
		})
	}

	tx := tc.DB.Begin()

	var reportIDs []uint
	if err := tx.Model(&models.CrossResourceReport{}).Where("team_id = ?", teamID).
		Pluck("id", &reportIDs).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete team",
		})
	}
	if len(reportIDs) > 0 {
		if err := tx.Where("cross_resource_report_id IN ?", reportIDs).
			Delete(&models.ResourceAnalysis{}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete team reports",
			})
		}
		if err := tx.Where("id IN ?", reportIDs).
			Delete(&models.CrossResourceReport{}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete team reports",
			})
		}
	}

	var integrationIDs []uint
	if err := tx.Model(&models.Integration{}).Where("owner_team_id = ?", teamID).
		Pluck("id", &integrationIDs).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete team",
		})
	}
	if len(integrationIDs) > 0 {
		for _, model := range []interface{}{
			&models.IntegrationCredential{}, &models.IntegrationShare{}, &models.ServiceResource{},
		} {
			if err := tx.Where("integration_id IN ?", integrationIDs).Delete(model).Error; err != nil {
				tx.Rollback()
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to delete team integrations",
				})
			}
		}
		if err := tx.Where("id IN ?", integrationIDs).Delete(&models.Integration{}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to delete team integrations",
			})
		}
	}

	if err := tx.Model(&team).Update("is_active", false).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate team",
		})
	}
	if err := tx.Delete(&team).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete team",
		})
	}

	tx.Commit()

	tc.Logger.Printf("Team %d deleted with %d reports and %d integrations", teamID, len(reportIDs), len(integrationIDs))
	return c.JSON(fiber.Map{
		"message": "Team deleted successfully",
	})
}

func (tc *TeamController) GetMembers(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var members []models.TeamMember
	if err := tc.DB.Where("team_id = ?", teamID).Find(&members).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch team members",
		})
	}

	return c.JSON(members)
}

// AddMember invites a user to the team by email.
func (tc *TeamController) AddMember(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	teamID := c.Locals("teamID").(uint)

	var req AddMemberRequest
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
	if !req.Role.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid role",
		})
	}

	var invitee models.User
	if err := tc.DB.Where("email = ?", req.Email).First(&invitee).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No user with that email",
		})
	}

	var existing models.TeamMember
	if err := tc.DB.Where("team_id = ? AND user_id = ?", teamID, invitee.ID).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "User is already a member of this team",
		})
	}

	member := models.TeamMember{
		TeamID:           teamID,
		UserID:           invitee.ID,
		Role:             req.Role,
		InvitationStatus: models.InvitationActive,
		InvitedByUserID:  &user.ID,
	}

	tx := tc.DB.Begin()
	if err := tx.Create(&member).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add team member",
		})
	}
	if err := tx.Model(&models.Team{}).Where("id = ?", teamID).
		UpdateColumn("team_size", gorm.Expr("team_size + 1")).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update team size",
		})
	}
	tx.Commit()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Member added successfully",
		"member":  member,
	})
}

// UpdateMemberRole changes a member's role. Owner-only; the last owner
// cannot be demoted.
func (tc *TeamController) UpdateMemberRole(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	teamID := c.Locals("teamID").(uint)
	memberID := utils.ParseUint(c.Params("memberID"))

	if err := middleware.EnsureTeamRole(tc.DB, teamID, user.ID, models.OwnerOnly...); err != nil {
		if errors.Is(err, middleware.ErrForbidden) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Only team owners can change roles",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify team membership",
		})
	}

	var req UpdateMemberRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if !req.Role.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid role",
		})
	}

	var member models.TeamMember
	if err := tc.DB.Where("id = ? AND team_id = ?", memberID, teamID).First(&member).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team member not found",
		})
	}

	if member.Role == models.TeamRoleOwner && req.Role != models.TeamRoleOwner {
		count, err := tc.ownerCount(teamID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to verify team owners",
			})
		}
		if count <= 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Cannot demote the last owner of a team",
			})
		}
	}

	if err := tc.DB.Model(&member).Update("role", req.Role).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update member role",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Member role updated successfully",
		"member":  member,
	})
}

// RemoveMember removes a member from the team (hard delete).
func (tc *TeamController) RemoveMember(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	memberID := utils.ParseUint(c.Params("memberID"))

	var member models.TeamMember
	if err := tc.DB.Where("id = ? AND team_id = ?", memberID, teamID).First(&member).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team member not found",
		})
	}

	if member.Role == models.TeamRoleOwner {
		count, err := tc.ownerCount(teamID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to verify team owners",
			})
		}
		if count <= 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Cannot remove the last owner of a team",
			})
		}
	}

	tx := tc.DB.Begin()
	if err := tx.Unscoped().Delete(&member).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove team member",
		})
	}
	if err := tx.Model(&models.Team{}).Where("id = ? AND team_size > 0", teamID).
		UpdateColumn("team_size", gorm.Expr("team_size - 1")).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update team size",
		})
	}
	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Member removed successfully",
	})
}

func (tc *TeamController) ownerCount(teamID uint) (int64, error) {
	var count int64
	err := tc.DB.Model(&models.TeamMember{}).
		Where("team_id = ? AND role = ? AND invitation_status = ?",
			teamID, models.TeamRoleOwner, models.InvitationActive).
		Count(&count).Error
	return count, err
}

// uniqueSlug derives a slug from the name, appending a counter when the
// plain form is taken.
func (tc *TeamController) uniqueSlug(name string) (string, error) {
	base := utils.Slugify(name)
	if base == "" {
		base = "team"
	}

	slug := base
	for i := 2; ; i++ {
		var count int64
		if err := tc.DB.Model(&models.Team{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
