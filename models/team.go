package models

import "gorm.io/gorm"

// TeamRole is the closed set of roles a member can hold within a team.
type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
	TeamRoleViewer TeamRole = "viewer"
)

// Valid reports whether r is one of the known roles. Exhaustive on
// purpose: adding a role must touch this switch.
func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleOwner, TeamRoleAdmin, TeamRoleMember, TeamRoleViewer:
		return true
	}
	return false
}

// Role sets used by the access guard. Broader sets list every allowed
// role explicitly; there is no computed hierarchy.
var (
	OwnerOnly        = []TeamRole{TeamRoleOwner}
	ManagerRoles     = []TeamRole{TeamRoleOwner, TeamRoleAdmin}
	ContributorRoles = []TeamRole{TeamRoleOwner, TeamRoleAdmin, TeamRoleMember}
	AnyTeamRole      = []TeamRole{TeamRoleOwner, TeamRoleAdmin, TeamRoleMember, TeamRoleViewer}
)

// InvitationStatus tracks membership lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationActive   InvitationStatus = "active"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRemoved  InvitationStatus = "removed"
)

// Team is the multi-tenant organizational boundary. It owns members,
// integrations and cross-resource reports.
type Team struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatar_url"`
	TeamSize    int    `gorm:"default:0" json:"team_size"`
	IsPersonal  bool   `gorm:"default:false" json:"is_personal"`
	// Free-form JSON metadata supplied by clients.
	Metadata string `gorm:"type:text" json:"metadata,omitempty"`

	IsActive        bool `gorm:"default:true" json:"is_active"`
	CreatedByUserID uint `gorm:"not null;index" json:"created_by_user_id"`

	// Relations
	Members      []TeamMember          `gorm:"foreignKey:TeamID" json:"members,omitempty"`
	Integrations []Integration         `gorm:"foreignKey:OwnerTeamID" json:"integrations,omitempty"`
	Reports      []CrossResourceReport `gorm:"foreignKey:TeamID" json:"reports,omitempty"`
}

// TeamMember links a user to a team with a role. The (team_id, user_id)
// pair is unique; removal is a hard delete.
type TeamMember struct {
	gorm.Model
	TeamID uint `gorm:"not null;uniqueIndex:idx_team_user" json:"team_id"`
	UserID uint `gorm:"not null;uniqueIndex:idx_team_user" json:"user_id"`

	Role             TeamRole         `gorm:"type:varchar(16);default:'member'" json:"role"`
	InvitationStatus InvitationStatus `gorm:"type:varchar(16);default:'active'" json:"invitation_status"`
	InvitedByUserID  *uint            `json:"invited_by_user_id,omitempty"`

	// Relations
	Team Team `json:"-"`
	User User `json:"-"`
}
