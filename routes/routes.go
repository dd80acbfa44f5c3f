package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "teampulse/controllers"
	"teampulse/middleware"
	"teampulse/models"
	"teampulse/utils"
	"teampulse/worker"
)

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, slack *utils.SlackClient, tracker *worker.AnalysisTracker) {
	teamController := controller.NewTeamController(db, log.New(os.Stdout, "TEAM: ", log.LstdFlags))
	integrationController := controller.NewIntegrationController(db, slack, log.New(os.Stdout, "INTEGRATION: ", log.LstdFlags))
	reportController := controller.NewReportController(db, tracker, log.New(os.Stdout, "REPORT: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Team routes
	api.Post("/teams", teamController.CreateTeam)
	api.Get("/teams", teamController.GetTeams)

	team := api.Group("/teams/:teamID")
	team.Get("/", middleware.RequireTeamRole(db, models.AnyTeamRole...), teamController.GetTeam)
	team.Put("/", middleware.RequireTeamRole(db, models.ManagerRoles...), teamController.UpdateTeam)
	team.Delete("/", middleware.RequireTeamRole(db, models.OwnerOnly...), teamController.DeleteTeam)

	// Member routes
	team.Get("/members", middleware.RequireTeamRole(db, models.AnyTeamRole...), teamController.GetMembers)
	team.Post("/members", middleware.RequireTeamRole(db, models.ManagerRoles...), teamController.AddMember)
	team.Put("/members/:memberID/role", middleware.RequireTeamRole(db, models.OwnerOnly...), teamController.UpdateMemberRole)
	team.Delete("/members/:memberID", middleware.RequireTeamRole(db, models.ManagerRoles...), teamController.RemoveMember)

	// Integration routes
	team.Get("/integrations/slack/connect", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.ConnectSlack)
	team.Get("/integrations", middleware.RequireTeamRole(db, models.AnyTeamRole...), integrationController.GetIntegrations)

	integration := team.Group("/integrations/:integrationID")
	integration.Get("/", middleware.RequireTeamRole(db, models.AnyTeamRole...), integrationController.GetIntegration)
	integration.Put("/", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.UpdateIntegration)
	integration.Post("/disconnect", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.DisconnectIntegration)
	integration.Post("/revoke", middleware.RequireTeamRole(db, models.OwnerOnly...), integrationController.RevokeIntegration)

	// Share routes
	integration.Get("/shares", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.GetShares)
	integration.Post("/shares", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.ShareIntegration)
	integration.Delete("/shares/:shareID", middleware.RequireTeamRole(db, models.ManagerRoles...), integrationController.RevokeShare)

	// Resource routes
	integration.Post("/resources/sync", middleware.RequireTeamRole(db, models.ContributorRoles...), integrationController.SyncResources)
	integration.Get("/resources", middleware.RequireTeamRole(db, models.AnyTeamRole...), integrationController.GetResources)
	integration.Put("/resources/:resourceID/select", middleware.RequireTeamRole(db, models.ContributorRoles...), integrationController.SelectResource)

	// Slack OAuth callback lands outside the team scope; the install
	// cookie carries the team.
	api.Get("/integrations/slack/callback", integrationController.SlackCallback)

	// Report routes
	team.Post("/reports", middleware.RequireTeamRole(db, models.ContributorRoles...), reportController.CreateReport)
	team.Get("/reports", middleware.RequireTeamRole(db, models.AnyTeamRole...), reportController.GetReports)

	report := team.Group("/reports/:reportID")
	report.Get("/", middleware.RequireTeamRole(db, models.AnyTeamRole...), reportController.GetReport)
	report.Delete("/", middleware.RequireTeamRole(db, models.ManagerRoles...), reportController.DeleteReport)
	report.Post("/analyses", middleware.RequireTeamRole(db, models.ContributorRoles...), reportController.CreateAnalysis)
	report.Post("/run", middleware.RequireTeamRole(db, models.ContributorRoles...), reportController.RunReport)

	// WebSocket route for report progress
	report.Get("/progress", middleware.RequireTeamRole(db, models.AnyTeamRole...),
		websocket.New(reportController.HandleReportProgressWS))

	team.Get("/analyses/running", middleware.RequireTeamRole(db, models.AnyTeamRole...), reportController.ListRunningTasks)

	// Analysis routes with rate limiting on runs
	analysis := team.Group("/analyses/:analysisID")
	analysis.Get("/", middleware.RequireTeamRole(db, models.AnyTeamRole...), reportController.GetAnalysis)
	analysis.Post("/run", middleware.RequireTeamRole(db, models.ContributorRoles...),
		middleware.AnalysisRateLimiter(), reportController.RunAnalysis)
	analysis.Get("/task", middleware.RequireTeamRole(db, models.AnyTeamRole...), reportController.GetAnalysisTask)
	analysis.Post("/cancel", middleware.RequireTeamRole(db, models.ContributorRoles...), reportController.CancelAnalysisTask)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, slack *utils.SlackClient, tracker *worker.AnalysisTracker) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupAuthRoutes(app, db)
	SetupAPIRoutes(app, db, slack, tracker)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
