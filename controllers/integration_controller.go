package controller

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"teampulse/config"
	"teampulse/models"
	"teampulse/utils"
)

type IntegrationController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Slack  *utils.SlackClient
}

func NewIntegrationController(db *gorm.DB, slack *utils.SlackClient, logger *log.Logger) *IntegrationController {
	return &IntegrationController{
		DB:     db,
		Logger: logger,
		Slack:  slack,
	}
}

type UpdateIntegrationRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

type ShareIntegrationRequest struct {
	TeamID     uint              `json:"team_id" validate:"required"`
	ShareLevel models.ShareLevel `json:"share_level" validate:"required"`
}

// Slack deprecated the v1 endpoint pair that x/oauth2 ships; workspace
// installs go through the v2 URLs.
var slackOAuthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://slack.com/oauth/v2/authorize",
	TokenURL: "https://slack.com/api/oauth.v2.access",
}

const slackOAuthScopes = "channels:history,channels:read,groups:history,groups:read,reactions:read,users:read"

func slackOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.AppConfig.Slack.ClientID,
		ClientSecret: config.AppConfig.Slack.ClientSecret,
		RedirectURL:  config.AppConfig.Slack.RedirectURI,
		Scopes:       strings.Split(slackOAuthScopes, ","),
		Endpoint:     slackOAuthEndpoint,
	}
}

// ConnectSlack starts the Slack workspace install flow for a team.
func (ic *IntegrationController) ConnectSlack(c *fiber.Ctx) error {
	// The state cookie provides CSRF protection; a second cookie keeps
	// the team so the callback can attribute the install.
	state := uuid.NewString()

	cookie := new(fiber.Cookie)
	cookie.Name = "slack_oauth_state"
	cookie.Value = state
	cookie.Expires = time.Now().Add(10 * time.Minute)
	cookie.HTTPOnly = true
	cookie.Secure = true
	cookie.SameSite = "Lax"
	c.Cookie(cookie)

	teamCookie := new(fiber.Cookie)
	teamCookie.Name = "slack_oauth_team"
	teamCookie.Value = c.Params("teamID")
	teamCookie.Expires = time.Now().Add(10 * time.Minute)
	teamCookie.HTTPOnly = true
	teamCookie.Secure = true
	teamCookie.SameSite = "Lax"
	c.Cookie(teamCookie)

	url := slackOAuthConfig().AuthCodeURL(state)
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

// SlackCallback completes the install: exchanges the code, then creates
// or refreshes the Integration and its encrypted oauth token.
func (ic *IntegrationController) SlackCallback(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	state := c.Query("state")
	cookieState := c.Cookies("slack_oauth_state")
	if state == "" || cookieState == "" || state != cookieState {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid state parameter",
		})
	}
	c.ClearCookie("slack_oauth_state")

	teamID := utils.ParseUint(c.Cookies("slack_oauth_team"))
	c.ClearCookie("slack_oauth_team")
	if teamID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Install flow lost its team association",
		})
	}

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Authorization code not provided",
		})
	}

	token, err := slackOAuthConfig().Exchange(context.Background(), code)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to exchange token: " + err.Error(),
		})
	}

	// Slack's v2 response nests workspace info next to the token.
	workspaceID, workspaceName := "", ""
	if team, ok := token.Extra("team").(map[string]interface{}); ok {
		workspaceID, _ = team["id"].(string)
		workspaceName, _ = team["name"].(string)
	}
	grantedScopes, _ := token.Extra("scope").(string)

	if workspaceID == "" {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Slack response did not include a workspace",
		})
	}

	encrypted, err := utils.Encrypt(token.AccessToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to protect credential",
		})
	}

	name := workspaceName
	if name == "" {
		name = "Slack workspace"
	}

	integration := models.Integration{
		OwnerTeamID:     teamID,
		ServiceType:     models.ServiceSlack,
		Name:            name,
		WorkspaceID:     &workspaceID,
		Status:          models.IntegrationActive,
		CreatedByUserID: user.ID,
	}

	tx := ic.DB.Begin()
	err = tx.Where("owner_team_id = ? AND workspace_id = ? AND service_type = ?",
		teamID, workspaceID, models.ServiceSlack).
		Assign(map[string]interface{}{
			"name":       name,
			"status":     models.IntegrationActive,
			"last_error": "",
		}).
		FirstOrCreate(&integration).Error
	if err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save integration",
		})
	}

	// Replace any previous token for this workspace.
	if err := tx.Where("integration_id = ? AND credential_type = ?",
		integration.ID, models.CredentialOAuthToken).
		Delete(&models.IntegrationCredential{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save credential",
		})
	}
	credential := models.IntegrationCredential{
		IntegrationID:  integration.ID,
		CredentialType: models.CredentialOAuthToken,
		EncryptedValue: encrypted,
		Scopes:         grantedScopes,
	}
	if err := tx.Create(&credential).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save credential",
		})
	}
	tx.Commit()

	ic.Logger.Printf("Slack workspace %s connected for team %d", workspaceID, teamID)
	return c.JSON(fiber.Map{
		"message":     "Slack workspace connected",
		"integration": integration,
	})
}

// GetIntegrations lists integrations the team owns plus those shared
// with it.
func (ic *IntegrationController) GetIntegrations(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)

	var owned []models.Integration
	if err := ic.DB.Where("owner_team_id = ?", teamID).Find(&owned).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch integrations",
		})
	}

	var shared []models.Integration
	err := ic.DB.Joins("JOIN integration_shares ON integration_shares.integration_id = integrations.id").
		Where("integration_shares.team_id = ? AND integration_shares.status = ? AND integration_shares.deleted_at IS NULL",
			teamID, models.ShareActive).
		Find(&shared).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch shared integrations",
		})
	}

	return c.JSON(fiber.Map{
		"owned":  owned,
		"shared": shared,
	})
}

func (ic *IntegrationController) GetIntegration(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	integration, ok := ic.accessibleIntegration(teamID, integrationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	return c.JSON(integration)
}

func (ic *IntegrationController) UpdateIntegration(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	var req UpdateIntegrationRequest
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

	var integration models.Integration
	if err := ic.DB.Where("id = ? AND owner_team_id = ?", integrationID, teamID).
		First(&integration).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) > 0 {
		if err := ic.DB.Model(&integration).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update integration",
			})
		}
	}

	return c.JSON(fiber.Map{
		"message":     "Integration updated successfully",
		"integration": integration,
	})
}

// DisconnectIntegration marks the integration disconnected but keeps
// its credentials so it can be reconnected.
func (ic *IntegrationController) DisconnectIntegration(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	result := ic.DB.Model(&models.Integration{}).
		Where("id = ? AND owner_team_id = ?", integrationID, teamID).
		Update("status", models.IntegrationDisconnected)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to disconnect integration",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Integration disconnected",
	})
}

// RevokeIntegration revokes the connection and deletes its stored
// credentials. Active shares are revoked alongside.
func (ic *IntegrationController) RevokeIntegration(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	var integration models.Integration
	if err := ic.DB.Where("id = ? AND owner_team_id = ?", integrationID, teamID).
		First(&integration).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	tx := ic.DB.Begin()
	if err := tx.Model(&integration).Update("status", models.IntegrationRevoked).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke integration",
		})
	}
	if err := tx.Where("integration_id = ?", integration.ID).
		Delete(&models.IntegrationCredential{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete credentials",
		})
	}
	if err := tx.Model(&models.IntegrationShare{}).
		Where("integration_id = ? AND status = ?", integration.ID, models.ShareActive).
		Updates(map[string]interface{}{
			"status":     models.ShareRevoked,
			"revoked_at": time.Now(),
		}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke shares",
		})
	}
	tx.Commit()

	return c.JSON(fiber.Map{
		"message": "Integration revoked and credentials deleted",
	})
}

// ShareIntegration grants another team access to this integration.
func (ic *IntegrationController) ShareIntegration(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	var req ShareIntegrationRequest
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
	if !req.ShareLevel.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid share level",
		})
	}
	if req.TeamID == teamID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Cannot share an integration with its owner team",
		})
	}

	var integration models.Integration
	if err := ic.DB.Where("id = ? AND owner_team_id = ?", integrationID, teamID).
		First(&integration).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	var grantee models.Team
	if err := ic.DB.Where("id = ? AND is_active = ?", req.TeamID, true).First(&grantee).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Target team not found",
		})
	}

	share := models.IntegrationShare{
		IntegrationID:  integration.ID,
		TeamID:         grantee.ID,
		ShareLevel:     req.ShareLevel,
		Status:         models.ShareActive,
		SharedByUserID: user.ID,
	}
	err := ic.DB.Where("integration_id = ? AND team_id = ?", integration.ID, grantee.ID).
		Assign(map[string]interface{}{
			"share_level": req.ShareLevel,
			"status":      models.ShareActive,
			"revoked_at":  nil,
		}).
		FirstOrCreate(&share).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to share integration",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Integration shared successfully",
		"share":   share,
	})
}

func (ic *IntegrationController) RevokeShare(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))
	shareID := utils.ParseUint(c.Params("shareID"))

	var share models.IntegrationShare
	err := ic.DB.Joins("Integration").
		Where("integration_shares.id = ? AND integration_shares.integration_id = ?", shareID, integrationID).
		Where("\"Integration\".owner_team_id = ?", teamID).
		First(&share).Error
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Share not found",
		})
	}

	if share.Status == models.ShareRevoked {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Share is already revoked",
		})
	}

	err = ic.DB.Model(&share).Updates(map[string]interface{}{
		"status":     models.ShareRevoked,
		"revoked_at": time.Now(),
	}).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke share",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Share revoked successfully",
	})
}

func (ic *IntegrationController) GetShares(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	var integration models.Integration
	if err := ic.DB.Where("id = ? AND owner_team_id = ?", integrationID, teamID).
		First(&integration).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	var shares []models.IntegrationShare
	if err := ic.DB.Where("integration_id = ?", integration.ID).Find(&shares).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch shares",
		})
	}

	return c.JSON(shares)
}

// SyncResources refreshes the channel list for a Slack integration.
func (ic *IntegrationController) SyncResources(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	integration, ok := ic.accessibleIntegration(teamID, integrationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}
	if integration.Status != models.IntegrationActive {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Integration is not active",
		})
	}

	var credential models.IntegrationCredential
	err := ic.DB.Where("integration_id = ? AND credential_type = ?",
		integration.ID, models.CredentialOAuthToken).First(&credential).Error
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Integration has no usable credential",
		})
	}

	token, err := utils.Decrypt(credential.EncryptedValue)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read credential",
		})
	}

	channels, err := ic.Slack.ListChannels(c.Context(), token)
	if err != nil {
		ic.Logger.Printf("Channel sync failed for integration %d: %v", integration.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to list channels from Slack",
		})
	}

	now := time.Now()
	for _, channel := range channels {
		resource := models.ServiceResource{
			IntegrationID: integration.ID,
			ResourceType:  models.ResourceSlackChannel,
			ExternalID:    channel.ID,
			Name:          channel.Name,
			LastSyncedAt:  &now,
		}
		err := ic.DB.Where("integration_id = ? AND external_id = ?", integration.ID, channel.ID).
			Assign(map[string]interface{}{"name": channel.Name, "last_synced_at": now}).
			FirstOrCreate(&resource).Error
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to save resources",
			})
		}
	}

	if err := ic.DB.Model(&models.Integration{}).Where("id = ?", integration.ID).
		Update("last_used_at", now).Error; err != nil {
		ic.Logger.Printf("Failed to stamp last_used_at for integration %d: %v", integration.ID, err)
	}

	return c.JSON(fiber.Map{
		"message": "Resources synced",
		"count":   len(channels),
	})
}

func (ic *IntegrationController) GetResources(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))

	integration, ok := ic.accessibleIntegration(teamID, integrationID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	var resources []models.ServiceResource
	if err := ic.DB.Where("integration_id = ?", integration.ID).Find(&resources).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch resources",
		})
	}

	return c.JSON(resources)
}

// SelectResource toggles whether a resource is included in analyses.
func (ic *IntegrationController) SelectResource(c *fiber.Ctx) error {
	teamID := c.Locals("teamID").(uint)
	integrationID := utils.ParseUint(c.Params("integrationID"))
	resourceID := utils.ParseUint(c.Params("resourceID"))

	var req struct {
		Selected bool `json:"selected"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if _, ok := ic.accessibleIntegration(teamID, integrationID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Integration not found",
		})
	}

	result := ic.DB.Model(&models.ServiceResource{}).
		Where("id = ? AND integration_id = ?", resourceID, integrationID).
		Update("is_selected", req.Selected)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update resource",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Resource not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Resource updated",
	})
}

// accessibleIntegration returns the integration when the team owns it
// or holds an active share on it.
func (ic *IntegrationController) accessibleIntegration(teamID, integrationID uint) (*models.Integration, bool) {
	var integration models.Integration
	if err := ic.DB.First(&integration, integrationID).Error; err != nil {
		return nil, false
	}
	if integration.OwnerTeamID == teamID {
		return &integration, true
	}

	var count int64
	err := ic.DB.Model(&models.IntegrationShare{}).
		Where("integration_id = ? AND team_id = ? AND status = ?",
			integrationID, teamID, models.ShareActive).
		Count(&count).Error
	if err != nil || count == 0 {
		return nil, false
	}
	return &integration, true
}
