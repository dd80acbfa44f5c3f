package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const slackAPIBaseURL = "https://slack.com/api"

// Slack auth failures that should flip an integration to expired.
const (
	slackErrTokenExpired = "token_expired"
	slackErrInvalidAuth  = "invalid_auth"
	slackErrTokenRevoked = "token_revoked"
)

// SlackAPIError is a Slack "ok": false response.
type SlackAPIError struct {
	Code string
}

func (e *SlackAPIError) Error() string {
	return "slack API error: " + e.Code
}

// IsAuthError reports whether the failure means the token is no longer
// usable, as opposed to a transient or request problem.
func (e *SlackAPIError) IsAuthError() bool {
	switch e.Code {
	case slackErrTokenExpired, slackErrInvalidAuth, slackErrTokenRevoked:
		return true
	}
	return false
}

type SlackClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewSlackClient() *SlackClient {
	return &SlackClient{
		BaseURL:    slackAPIBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type SlackReaction struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type SlackMessage struct {
	Type       string          `json:"type"`
	User       string          `json:"user"`
	Text       string          `json:"text"`
	TS         string          `json:"ts"`
	ThreadTS   string          `json:"thread_ts,omitempty"`
	ReplyCount int             `json:"reply_count,omitempty"`
	Reactions  []SlackReaction `json:"reactions,omitempty"`
}

type SlackChannel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
	IsPrivate  bool   `json:"is_private"`
	NumMembers int    `json:"num_members"`
}

// ChannelStats are the aggregate activity numbers for one channel and
// period, plus a bounded sample of messages for prompting.
type ChannelStats struct {
	MessageCount     int
	ParticipantCount int
	ThreadCount      int
	ReactionCount    int
	Sample           []SlackMessage
}

// maxSampleMessages bounds how much transcript ever reaches a prompt.
const maxSampleMessages = 200

func (s *SlackClient) get(ctx context.Context, token, method string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+method+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack %s returned status %d", method, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// ListChannels pages through conversations.list and returns every
// non-archived channel visible to the token.
func (s *SlackClient) ListChannels(ctx context.Context, token string) ([]SlackChannel, error) {
	var channels []SlackChannel
	cursor := ""

	for {
		params := url.Values{
			"limit": {"200"},
			"types": {"public_channel,private_channel"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var payload struct {
			Ok       bool           `json:"ok"`
			Error    string         `json:"error"`
			Channels []SlackChannel `json:"channels"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := s.get(ctx, token, "conversations.list", params, &payload); err != nil {
			return nil, err
		}
		if !payload.Ok {
			return nil, &SlackAPIError{Code: payload.Error}
		}

		for _, ch := range payload.Channels {
			if !ch.IsArchived {
				channels = append(channels, ch)
			}
		}

		cursor = payload.Metadata.NextCursor
		if cursor == "" {
			return channels, nil
		}
	}
}

// FetchChannelHistory pages through conversations.history for the
// window [oldest, latest). Slack's default bounds are exclusive, so
// inclusive=true keeps messages posted exactly at oldest; the latest
// edge is re-excluded client side.
func (s *SlackClient) FetchChannelHistory(ctx context.Context, token, channelID string, oldest, latest time.Time) ([]SlackMessage, error) {
	var messages []SlackMessage
	cursor := ""
	cutoff := float64(latest.Unix())

	for {
		params := url.Values{
			"channel":   {channelID},
			"limit":     {"200"},
			"oldest":    {strconv.FormatInt(oldest.Unix(), 10)},
			"latest":    {strconv.FormatInt(latest.Unix(), 10)},
			"inclusive": {"true"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var payload struct {
			Ok       bool           `json:"ok"`
			Error    string         `json:"error"`
			Messages []SlackMessage `json:"messages"`
			HasMore  bool           `json:"has_more"`
			Metadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := s.get(ctx, token, "conversations.history", params, &payload); err != nil {
			return nil, err
		}
		if !payload.Ok {
			return nil, &SlackAPIError{Code: payload.Error}
		}

		for _, msg := range payload.Messages {
			if ts, err := strconv.ParseFloat(msg.TS, 64); err == nil && ts >= cutoff {
				continue
			}
			messages = append(messages, msg)
		}

		cursor = payload.Metadata.NextCursor
		if !payload.HasMore || cursor == "" {
			return messages, nil
		}
	}
}

// GetChannelStats fetches the channel history for the period and
// aggregates it: message count, distinct participants, thread parents
// and summed reactions, plus a bounded sample of the raw messages.
func (s *SlackClient) GetChannelStats(ctx context.Context, token, channelID string, start, end time.Time) (*ChannelStats, error) {
	history, err := s.FetchChannelHistory(ctx, token, channelID, start, end)
	if err != nil {
		return nil, err
	}

	stats := &ChannelStats{}
	participants := make(map[string]struct{})

	for _, msg := range history {
		if msg.Type != "message" {
			continue
		}
		stats.MessageCount++
		if msg.User != "" {
			participants[msg.User] = struct{}{}
		}
		if msg.ReplyCount > 0 {
			stats.ThreadCount++
		}
		for _, reaction := range msg.Reactions {
			stats.ReactionCount += reaction.Count
		}
		if len(stats.Sample) < maxSampleMessages {
			stats.Sample = append(stats.Sample, msg)
		}
	}
	stats.ParticipantCount = len(participants)

	return stats, nil
}
