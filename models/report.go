package models

import (
	"time"

	"gorm.io/gorm"
)

// AnalysisStatus is the lifecycle state shared by reports and analyses.
// Values are persisted as their literal names; keep them stable.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "PENDING"
	StatusInProgress AnalysisStatus = "IN_PROGRESS"
	StatusCompleted  AnalysisStatus = "COMPLETED"
	StatusFailed     AnalysisStatus = "FAILED"
)

// Terminal reports whether s is an end state. Terminal states are only
// left by creating a new analysis, never by re-running in place.
func (s AnalysisStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusInProgress:
		return false
	}
	return false
}

// ResourceType identifies what kind of external object an analysis covers.
type ResourceType string

const (
	ResourceSlackChannel ResourceType = "SLACK_CHANNEL"
	ResourceGitHubRepo   ResourceType = "GITHUB_REPO"
	ResourceNotionPage   ResourceType = "NOTION_PAGE"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceSlackChannel, ResourceGitHubRepo, ResourceNotionPage:
		return true
	}
	return false
}

// AnalysisType selects the angle of an analysis.
type AnalysisType string

const (
	AnalysisContribution AnalysisType = "CONTRIBUTION"
	AnalysisTopics       AnalysisType = "TOPICS"
	AnalysisSentiment    AnalysisType = "SENTIMENT"
	AnalysisActivity     AnalysisType = "ACTIVITY"
)

func (a AnalysisType) Valid() bool {
	switch a {
	case AnalysisContribution, AnalysisTopics, AnalysisSentiment, AnalysisActivity:
		return true
	}
	return false
}

// CrossResourceReport is a team-scoped aggregate report over a date
// range. Its own status is not derived from its children; callers
// aggregate child statuses when they need a rollup.
type CrossResourceReport struct {
	gorm.Model
	TeamID      uint   `gorm:"not null;index" json:"team_id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`

	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Status AnalysisStatus `gorm:"type:varchar(16);default:'PENDING'" json:"status"`

	CreatedByUserID uint `gorm:"not null" json:"created_by_user_id"`

	// Relations
	Team     Team               `json:"-"`
	Analyses []ResourceAnalysis `gorm:"foreignKey:CrossResourceReportID" json:"analyses,omitempty"`
}

// ResourceAnalysis is one resource's analysis within a report.
type ResourceAnalysis struct {
	gorm.Model
	CrossResourceReportID uint `gorm:"not null;index" json:"cross_resource_report_id"`
	IntegrationID         uint `gorm:"not null;index" json:"integration_id"`
	ResourceID            uint `gorm:"not null;index" json:"resource_id"`

	ResourceType ResourceType `gorm:"type:varchar(24);not null" json:"resource_type"`
	AnalysisType AnalysisType `gorm:"type:varchar(16);default:'CONTRIBUTION'" json:"analysis_type"`

	PeriodStart time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	Status       AnalysisStatus `gorm:"type:varchar(16);default:'PENDING'" json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// Raw activity counts for the period.
	MessageCount     int `gorm:"default:0" json:"message_count"`
	ParticipantCount int `gorm:"default:0" json:"participant_count"`
	ThreadCount      int `gorm:"default:0" json:"thread_count"`
	ReactionCount    int `gorm:"default:0" json:"reaction_count"`

	// Set when the period contained no messages; the LLM is skipped.
	NoData bool `gorm:"default:false" json:"no_data"`

	// LLM-generated sections.
	Summary             string `gorm:"type:text" json:"summary,omitempty"`
	TopicAnalysis       string `gorm:"type:text" json:"topic_analysis,omitempty"`
	ContributorInsights string `gorm:"type:text" json:"contributor_insights,omitempty"`
	KeyHighlights       string `gorm:"type:text" json:"key_highlights,omitempty"`

	// Full provider response kept for audit.
	RawResponse string `gorm:"type:text" json:"-"`

	StartedAt           *time.Time `json:"started_at,omitempty"`
	AnalysisGeneratedAt *time.Time `json:"analysis_generated_at,omitempty"`

	// Relations
	Report      CrossResourceReport `gorm:"foreignKey:CrossResourceReportID" json:"-"`
	Integration Integration         `json:"-"`
	Resource    ServiceResource     `gorm:"foreignKey:ResourceID" json:"-"`
}
