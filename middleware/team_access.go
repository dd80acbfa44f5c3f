package middleware

import (
	"errors"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"teampulse/models"
	"teampulse/utils"
)

// ErrForbidden is returned when the actor has no active membership in
// the team, or their role is not in the required set.
var ErrForbidden = errors.New("insufficient team permissions")

var guardLogger = log.New(os.Stdout, "GUARD: ", log.Ldate|log.Ltime|log.Lshortfile)

// EnsureTeamRole is the hard-failing form of the access guard. It looks
// up the active membership for (teamID, userID) and returns ErrForbidden
// unless the member's role is in the required set.
func EnsureTeamRole(db *gorm.DB, teamID, userID uint, roles ...models.TeamRole) error {
	var member models.TeamMember
	err := db.Where("team_id = ? AND user_id = ? AND invitation_status = ?",
		teamID, userID, models.InvitationActive).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		return err
	}

	for _, role := range roles {
		if member.Role == role {
			return nil
		}
	}
	return ErrForbidden
}

// CheckTeamAccess is the boolean form of the guard. It never returns an
// error: any lookup failure is logged and treated as denial (fail-closed).
func CheckTeamAccess(db *gorm.DB, teamID, userID uint, roles ...models.TeamRole) bool {
	err := EnsureTeamRole(db, teamID, userID, roles...)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrForbidden) {
		guardLogger.Printf("access check failed for team %d user %d: %v", teamID, userID, err)
	}
	return false
}

// RequireTeamRole guards /teams/:teamID/... routes. The JWT middleware
// must run first so the user is on the context.
func RequireTeamRole(db *gorm.DB, roles ...models.TeamRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := c.Locals("user").(*models.User)
		teamID := utils.ParseUint(c.Params("teamID"))
		if teamID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid team id",
			})
		}

		if err := EnsureTeamRole(db, teamID, user.ID, roles...); err != nil {
			if errors.Is(err, ErrForbidden) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error": "You do not have permission to perform this action",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to verify team membership",
			})
		}

		c.Locals("teamID", teamID)
		return c.Next()
	}
}
