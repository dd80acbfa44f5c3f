package worker

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"teampulse/models"
	"teampulse/utils"
)

// MaintenanceWorker runs periodic housekeeping on a multi-hour cadence:
// expiring credentials, re-syncing Slack resources and pruning shares of
// dead integrations.
type MaintenanceWorker struct {
	DB       *gorm.DB
	Slack    *utils.SlackClient
	Logger   *log.Logger
	Interval time.Duration
}

func NewMaintenanceWorker(db *gorm.DB, slack *utils.SlackClient, logger *log.Logger, interval time.Duration) *MaintenanceWorker {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &MaintenanceWorker{
		DB:       db,
		Slack:    slack,
		Logger:   logger,
		Interval: interval,
	}
}

func (mw *MaintenanceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	mw.Logger.Println("Maintenance worker started")

	ticker := time.NewTicker(mw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mw.Logger.Println("Maintenance worker shutting down...")
			return
		case <-ticker.C:
			mw.expireCredentials()
			mw.revokeDeadShares()
			mw.syncResources(ctx)
		}
	}
}

// expireCredentials flips integrations whose oauth token is past its
// expiry to the expired status.
func (mw *MaintenanceWorker) expireCredentials() {
	var credentials []models.IntegrationCredential
	err := mw.DB.Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Find(&credentials).Error
	if err != nil {
		mw.Logger.Printf("Error fetching expired credentials: %v", err)
		return
	}

	for _, credential := range credentials {
		err := mw.DB.Model(&models.Integration{}).
			Where("id = ? AND status = ?", credential.IntegrationID, models.IntegrationActive).
			Updates(map[string]interface{}{
				"status":     models.IntegrationExpired,
				"last_error": "credential expired",
			}).Error
		if err != nil {
			mw.Logger.Printf("Error expiring integration %d: %v", credential.IntegrationID, err)
		}
	}
}

// revokeDeadShares revokes active shares that point at integrations no
// longer able to serve them.
func (mw *MaintenanceWorker) revokeDeadShares() {
	var shares []models.IntegrationShare
	err := mw.DB.Joins("Integration").
		Where("integration_shares.status = ?", models.ShareActive).
		Where("\"Integration\".status IN ?", []models.IntegrationStatus{
			models.IntegrationRevoked, models.IntegrationExpired,
		}).
		Find(&shares).Error
	if err != nil {
		mw.Logger.Printf("Error fetching shares for revocation: %v", err)
		return
	}

	for _, share := range shares {
		err := mw.DB.Model(&share).Updates(map[string]interface{}{
			"status":     models.ShareRevoked,
			"revoked_at": time.Now(),
		}).Error
		if err != nil {
			mw.Logger.Printf("Error revoking share %d: %v", share.ID, err)
		}
	}
}

// syncResources refreshes the channel list of every active Slack
// integration. A failure on one integration does not stop the rest.
func (mw *MaintenanceWorker) syncResources(ctx context.Context) {
	var integrations []models.Integration
	err := mw.DB.Where("service_type = ? AND status = ?", models.ServiceSlack, models.IntegrationActive).
		Find(&integrations).Error
	if err != nil {
		mw.Logger.Printf("Error fetching integrations for sync: %v", err)
		return
	}

	for _, integration := range integrations {
		if err := mw.syncIntegration(ctx, integration); err != nil {
			mw.Logger.Printf("Error syncing integration %d: %v", integration.ID, err)
		}
	}
}

func (mw *MaintenanceWorker) syncIntegration(ctx context.Context, integration models.Integration) error {
	var credential models.IntegrationCredential
	err := mw.DB.Where("integration_id = ? AND credential_type = ?",
		integration.ID, models.CredentialOAuthToken).First(&credential).Error
	if err != nil {
		return err
	}

	token, err := utils.Decrypt(credential.EncryptedValue)
	if err != nil {
		return err
	}

	channels, err := mw.Slack.ListChannels(ctx, token)
	if err != nil {
		return err
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
		err := mw.DB.Where("integration_id = ? AND external_id = ?", integration.ID, channel.ID).
			Assign(map[string]interface{}{"name": channel.Name, "last_synced_at": now}).
			FirstOrCreate(&resource).Error
		if err != nil {
			return err
		}
	}

	mw.Logger.Printf("Synced %d channels for integration %d", len(channels), integration.ID)
	return nil
}
