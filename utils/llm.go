package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"teampulse/config"
)

// LLMClient calls an OpenAI-compatible chat completions endpoint.
type LLMClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func NewLLMClient(cfg config.LLMConfig) *LLMClient {
	return &LLMClient{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Complete sends the prompt and returns the generated text plus the raw
// response body for audit.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, string, error) {
	reqBody := map[string]interface{}{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", string(body), fmt.Errorf("LLM returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", string(body), err
	}
	if len(payload.Choices) == 0 {
		return "", string(body), errors.New("LLM response contained no choices")
	}

	return payload.Choices[0].Message.Content, string(body), nil
}

// Section headers the model is instructed to emit and the parser splits on.
const (
	sectionSummary      = "#SUMMARY"
	sectionTopics       = "#TOPIC ANALYSIS"
	sectionContributors = "#CONTRIBUTOR INSIGHTS"
	sectionHighlights   = "#KEY HIGHLIGHTS"
)

// PromptInput carries everything the analysis prompt template needs.
type PromptInput struct {
	ChannelName      string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	MessageCount     int
	ParticipantCount int
	ThreadCount      int
	ReactionCount    int
	Transcript       string
}

// BuildAnalysisPrompt formats the fixed four-section analysis prompt.
// User-mention tokens in the transcript are deliberately left in Slack's
// raw <@U...> form; the template tells the model to keep them that way.
func BuildAnalysisPrompt(in PromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the activity in the Slack channel #%s between %s and %s.\n\n",
		in.ChannelName,
		in.PeriodStart.Format("2006-01-02"),
		in.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(&b, "Channel statistics for the period:\n")
	fmt.Fprintf(&b, "- Messages: %d\n", in.MessageCount)
	fmt.Fprintf(&b, "- Participants: %d\n", in.ParticipantCount)
	fmt.Fprintf(&b, "- Threads: %d\n", in.ThreadCount)
	fmt.Fprintf(&b, "- Reactions: %d\n\n", in.ReactionCount)
	b.WriteString("Message sample (most recent first):\n")
	b.WriteString(in.Transcript)
	b.WriteString("\n\n")
	b.WriteString("Produce your analysis in exactly four sections with these headers:\n")
	b.WriteString(sectionSummary + "\n" + sectionTopics + "\n" + sectionContributors + "\n" + sectionHighlights + "\n\n")
	b.WriteString("When referring to people, keep the original Slack mention syntax ")
	b.WriteString("(for example <@U12345>) exactly as it appears in the messages. ")
	b.WriteString("Do not translate mentions into display names.")

	return b.String()
}

// AnalysisSections are the four generated text fields of an analysis.
type AnalysisSections struct {
	Summary             string
	TopicAnalysis       string
	ContributorInsights string
	KeyHighlights       string
}

// ParseAnalysisSections splits the model output on the four known
// headers. Output that lacks the headers lands wholesale in Summary so
// nothing generated is ever dropped.
func ParseAnalysisSections(text string) AnalysisSections {
	headers := []string{sectionSummary, sectionTopics, sectionContributors, sectionHighlights}

	indices := make([]int, len(headers))
	found := false
	for i, h := range headers {
		indices[i] = strings.Index(text, h)
		if indices[i] >= 0 {
			found = true
		}
	}
	if !found {
		return AnalysisSections{Summary: strings.TrimSpace(text)}
	}

	extract := func(i int) string {
		start := indices[i]
		if start < 0 {
			return ""
		}
		start += len(headers[i])
		end := len(text)
		for j := range headers {
			if indices[j] > start && indices[j] < end {
				end = indices[j]
			}
		}
		return strings.TrimSpace(text[start:end])
	}

	return AnalysisSections{
		Summary:             extract(0),
		TopicAnalysis:       extract(1),
		ContributorInsights: extract(2),
		KeyHighlights:       extract(3),
	}
}

// RenderTranscript formats a bounded excerpt of messages for the prompt.
// Mentions inside message text pass through untouched.
func RenderTranscript(messages []SlackMessage, max int) string {
	if max > 0 && len(messages) > max {
		messages = messages[:max]
	}

	var b strings.Builder
	for _, msg := range messages {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		author := msg.User
		if author == "" {
			author = "unknown"
		}
		fmt.Fprintf(&b, "<@%s>: %s\n", author, msg.Text)
	}
	return b.String()
}
