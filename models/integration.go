package models

import (
	"time"

	"gorm.io/gorm"
)

// ServiceType identifies the external service an integration connects to.
type ServiceType string

const (
	ServiceSlack  ServiceType = "slack"
	ServiceGitHub ServiceType = "github"
	ServiceNotion ServiceType = "notion"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceSlack, ServiceGitHub, ServiceNotion:
		return true
	}
	return false
}

// IntegrationStatus is the connection health of an integration.
type IntegrationStatus string

const (
	IntegrationActive       IntegrationStatus = "active"
	IntegrationDisconnected IntegrationStatus = "disconnected"
	IntegrationExpired      IntegrationStatus = "expired"
	IntegrationRevoked      IntegrationStatus = "revoked"
	IntegrationError        IntegrationStatus = "error"
)

// CredentialType distinguishes the secrets held for an integration.
type CredentialType string

const (
	CredentialOAuthToken    CredentialType = "oauth_token"
	CredentialRefreshToken  CredentialType = "refresh_token"
	CredentialSigningSecret CredentialType = "signing_secret"
	CredentialAPIKey        CredentialType = "api_key"
)

// ShareLevel controls what a grantee team may do with a shared integration.
type ShareLevel string

const (
	ShareFullAccess    ShareLevel = "full_access"
	ShareLimitedAccess ShareLevel = "limited_access"
	ShareReadOnly      ShareLevel = "read_only"
)

func (s ShareLevel) Valid() bool {
	switch s {
	case ShareFullAccess, ShareLimitedAccess, ShareReadOnly:
		return true
	}
	return false
}

// ShareStatus tracks whether a cross-team grant is still in force.
type ShareStatus string

const (
	ShareActive  ShareStatus = "active"
	ShareRevoked ShareStatus = "revoked"
)

// Integration is a team-owned connection to one external service
// instance (e.g. one Slack workspace).
type Integration struct {
	gorm.Model
	OwnerTeamID uint        `gorm:"not null;index;uniqueIndex:idx_team_workspace_service" json:"owner_team_id"`
	ServiceType ServiceType `gorm:"type:varchar(16);not null;uniqueIndex:idx_team_workspace_service" json:"service_type"`
	Name        string      `gorm:"not null" json:"name"`
	Description string      `json:"description"`

	// External workspace identifier (Slack team ID). Part of the unique
	// triple with owner team and service type.
	WorkspaceID *string `gorm:"uniqueIndex:idx_team_workspace_service" json:"workspace_id,omitempty"`

	Status     IntegrationStatus `gorm:"type:varchar(16);default:'active'" json:"status"`
	LastError  string            `json:"last_error,omitempty"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`

	CreatedByUserID uint `gorm:"not null" json:"created_by_user_id"`

	// Relations
	OwnerTeam   Team                    `json:"-"`
	Credentials []IntegrationCredential `gorm:"foreignKey:IntegrationID" json:"credentials,omitempty"`
	Shares      []IntegrationShare      `gorm:"foreignKey:IntegrationID" json:"shares,omitempty"`
	Resources   []ServiceResource       `gorm:"foreignKey:IntegrationID" json:"resources,omitempty"`
}

// IntegrationCredential holds one typed secret for an integration. The
// value is AES-encrypted before it reaches the database.
type IntegrationCredential struct {
	gorm.Model
	IntegrationID  uint           `gorm:"not null;index" json:"integration_id"`
	CredentialType CredentialType `gorm:"type:varchar(24);not null" json:"credential_type"`
	EncryptedValue string         `gorm:"not null" json:"-"`
	Scopes         string         `json:"scopes,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`

	Integration Integration `json:"-"`
}

// IntegrationShare grants another team access to an integration.
type IntegrationShare struct {
	gorm.Model
	IntegrationID uint        `gorm:"not null;uniqueIndex:idx_integration_team" json:"integration_id"`
	TeamID        uint        `gorm:"not null;uniqueIndex:idx_integration_team" json:"team_id"`
	ShareLevel    ShareLevel  `gorm:"type:varchar(16);not null" json:"share_level"`
	Status        ShareStatus `gorm:"type:varchar(16);default:'active'" json:"status"`

	SharedByUserID uint       `gorm:"not null" json:"shared_by_user_id"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`

	Integration Integration `json:"-"`
	Team        Team        `json:"-"`
}

// ServiceResource is an external object (channel, repo, page) discovered
// under an integration.
type ServiceResource struct {
	gorm.Model
	IntegrationID uint         `gorm:"not null;index;uniqueIndex:idx_integration_external" json:"integration_id"`
	ResourceType  ResourceType `gorm:"type:varchar(24);not null" json:"resource_type"`
	ExternalID    string       `gorm:"not null;uniqueIndex:idx_integration_external" json:"external_id"`
	Name          string       `gorm:"not null" json:"name"`
	Metadata      string       `gorm:"type:text" json:"metadata,omitempty"`

	// Opted in for analysis by the team.
	IsSelected   bool       `gorm:"default:false" json:"is_selected"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	Integration Integration `json:"-"`
}
