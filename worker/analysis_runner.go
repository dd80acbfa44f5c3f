package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"teampulse/models"
	"teampulse/utils"
)

// SlackService is the slice of the Slack client the runner needs.
type SlackService interface {
	GetChannelStats(ctx context.Context, token, channelID string, start, end time.Time) (*utils.ChannelStats, error)
}

// LLMService produces text for a prompt and returns the raw provider
// response alongside it.
type LLMService interface {
	Complete(ctx context.Context, prompt string) (text string, raw string, err error)
}

// transcriptLimit bounds how many sample messages are rendered into the
// prompt for one analysis.
const transcriptLimit = 100

// AnalysisRunner executes a single resource analysis end to end. Errors
// are recorded on the row as a terminal FAILED status; Run never panics
// into its caller and a failure in one analysis does not touch siblings.
type AnalysisRunner struct {
	DB    *gorm.DB
	Slack SlackService
	LLM   LLMService
	Cache *utils.ChannelStatsCache
}

func NewAnalysisRunner(db *gorm.DB, slack SlackService, llm LLMService, cache *utils.ChannelStatsCache) *AnalysisRunner {
	return &AnalysisRunner{
		DB:    db,
		Slack: slack,
		LLM:   llm,
		Cache: cache,
	}
}

// Run loads the analysis, gathers channel statistics, invokes the LLM
// and persists the result. The returned error mirrors what was recorded
// on the row so the tracker can expose a FAILED status.
func (ar *AnalysisRunner) Run(ctx context.Context, analysisID uint) error {
	var analysis models.ResourceAnalysis
	if err := ar.DB.Preload("Resource").Preload("Integration").First(&analysis, analysisID).Error; err != nil {
		return fmt.Errorf("analysis %d not found: %w", analysisID, err)
	}

	if err := ar.DB.Model(&analysis).Updates(map[string]interface{}{
		"status":        models.StatusInProgress,
		"error_message": "",
		"started_at":    time.Now(),
	}).Error; err != nil {
		return err
	}

	if err := ar.run(ctx, &analysis); err != nil {
		ar.markFailed(&analysis, err)
		return err
	}
	return nil
}

func (ar *AnalysisRunner) run(ctx context.Context, analysis *models.ResourceAnalysis) error {
	if analysis.Integration.Status != models.IntegrationActive {
		return fmt.Errorf("integration %d is %s", analysis.IntegrationID, analysis.Integration.Status)
	}

	token, err := ar.lookupToken(analysis.IntegrationID)
	if err != nil {
		return err
	}

	stats, err := ar.channelStats(ctx, token, analysis)
	if err != nil {
		var apiErr *utils.SlackAPIError
		if errors.As(err, &apiErr) && apiErr.IsAuthError() {
			ar.expireIntegration(analysis.IntegrationID, apiErr)
		}
		return err
	}

	// No-data policy: an empty period never reaches the LLM.
	if stats.MessageCount == 0 {
		return ar.DB.Model(analysis).Updates(map[string]interface{}{
			"status":                models.StatusCompleted,
			"no_data":               true,
			"message_count":         0,
			"participant_count":     0,
			"thread_count":          0,
			"reaction_count":        0,
			"summary":               "No messages were found in this channel for the selected period.",
			"analysis_generated_at": time.Now(),
		}).Error
	}

	prompt := utils.BuildAnalysisPrompt(utils.PromptInput{
		ChannelName:      analysis.Resource.Name,
		PeriodStart:      analysis.PeriodStart,
		PeriodEnd:        analysis.PeriodEnd,
		MessageCount:     stats.MessageCount,
		ParticipantCount: stats.ParticipantCount,
		ThreadCount:      stats.ThreadCount,
		ReactionCount:    stats.ReactionCount,
		Transcript:       utils.RenderTranscript(stats.Sample, transcriptLimit),
	})

	text, raw, err := ar.LLM.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("LLM call failed: %w", err)
	}

	sections := utils.ParseAnalysisSections(text)
	return ar.DB.Model(analysis).Updates(map[string]interface{}{
		"status":                models.StatusCompleted,
		"no_data":               false,
		"message_count":         stats.MessageCount,
		"participant_count":     stats.ParticipantCount,
		"thread_count":          stats.ThreadCount,
		"reaction_count":        stats.ReactionCount,
		"summary":               sections.Summary,
		"topic_analysis":        sections.TopicAnalysis,
		"contributor_insights":  sections.ContributorInsights,
		"key_highlights":        sections.KeyHighlights,
		"raw_response":          raw,
		"analysis_generated_at": time.Now(),
	}).Error
}

func (ar *AnalysisRunner) channelStats(ctx context.Context, token string, analysis *models.ResourceAnalysis) (*utils.ChannelStats, error) {
	key := utils.StatsCacheKey(analysis.Resource.ExternalID, analysis.PeriodStart, analysis.PeriodEnd)
	if ar.Cache != nil {
		if stats, ok := ar.Cache.Get(key); ok {
			return stats, nil
		}
	}

	stats, err := ar.Slack.GetChannelStats(ctx, token, analysis.Resource.ExternalID, analysis.PeriodStart, analysis.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if ar.Cache != nil {
		ar.Cache.Put(key, stats)
	}
	return stats, nil
}

func (ar *AnalysisRunner) lookupToken(integrationID uint) (string, error) {
	var credential models.IntegrationCredential
	err := ar.DB.Where("integration_id = ? AND credential_type = ?",
		integrationID, models.CredentialOAuthToken).First(&credential).Error
	if err != nil {
		return "", fmt.Errorf("no oauth token for integration %d: %w", integrationID, err)
	}
	if credential.ExpiresAt != nil && credential.ExpiresAt.Before(time.Now()) {
		return "", fmt.Errorf("oauth token for integration %d expired at %s", integrationID, credential.ExpiresAt)
	}
	return utils.Decrypt(credential.EncryptedValue)
}

func (ar *AnalysisRunner) expireIntegration(integrationID uint, apiErr *utils.SlackAPIError) {
	if err := ar.DB.Model(&models.Integration{}).Where("id = ?", integrationID).
		Updates(map[string]interface{}{
			"status":     models.IntegrationExpired,
			"last_error": apiErr.Error(),
		}).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"integration_id": integrationID,
			"error":          err.Error(),
		}).Error("Failed to mark integration expired")
	}
}

func (ar *AnalysisRunner) markFailed(analysis *models.ResourceAnalysis, cause error) {
	log := logrus.WithFields(logrus.Fields{
		"analysis_id": analysis.ID,
		"report_id":   analysis.CrossResourceReportID,
		"resource_id": analysis.ResourceID,
		"error":       cause.Error(),
	})
	log.Error("Analysis run failed")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "analysis_runner")
		scope.SetExtra("analysis_id", analysis.ID)
		scope.SetExtra("report_id", analysis.CrossResourceReportID)
		sentry.CaptureException(cause)
	})

	if err := ar.DB.Model(analysis).Updates(map[string]interface{}{
		"status":        models.StatusFailed,
		"error_message": cause.Error(),
	}).Error; err != nil {
		log.WithField("update_error", err.Error()).Error("Failed to persist FAILED status")
	}
}
