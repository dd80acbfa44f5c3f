package utils

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func slackTestClient(server *httptest.Server) *SlackClient {
	return &SlackClient{BaseURL: server.URL, HTTPClient: server.Client()}
}

func TestGetChannelStatsAggregation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer xoxb-test" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{
			"ok": true,
			"messages": [
				{"type":"message","user":"U1","text":"hello","reply_count":2,"reactions":[{"name":"+1","count":3}]},
				{"type":"message","user":"U2","text":"hi","reactions":[{"name":"eyes","count":1}]},
				{"type":"message","user":"U1","text":"again"},
				{"type":"channel_join","user":"U3","text":"joined"}
			],
			"has_more": false
		}`))
	}))
	defer server.Close()

	client := slackTestClient(server)
	stats, err := client.GetChannelStats(context.Background(), "xoxb-test", "C1",
		time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("GetChannelStats: %v", err)
	}

	if stats.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3 (join events excluded)", stats.MessageCount)
	}
	if stats.ParticipantCount != 2 {
		t.Errorf("ParticipantCount = %d, want 2 distinct users", stats.ParticipantCount)
	}
	if stats.ThreadCount != 1 {
		t.Errorf("ThreadCount = %d, want 1 thread parent", stats.ThreadCount)
	}
	if stats.ReactionCount != 4 {
		t.Errorf("ReactionCount = %d, want 4 summed", stats.ReactionCount)
	}
	if len(stats.Sample) != 3 {
		t.Errorf("Sample length = %d, want 3", len(stats.Sample))
	}
}

func TestFetchChannelHistoryWindowBounds(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := time.Unix(1700003600, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("inclusive") != "true" {
			t.Errorf("inclusive = %q, want true", q.Get("inclusive"))
		}
		if q.Get("oldest") != "1700000000" || q.Get("latest") != "1700003600" {
			t.Errorf("window = [%s, %s]", q.Get("oldest"), q.Get("latest"))
		}
		_, _ = w.Write([]byte(`{
			"ok": true,
			"messages": [
				{"type":"message","user":"U1","text":"at end","ts":"1700003600.000000"},
				{"type":"message","user":"U2","text":"mid","ts":"1700001800.000100"},
				{"type":"message","user":"U3","text":"at start","ts":"1700000000.000000"}
			],
			"has_more": false
		}`))
	}))
	defer server.Close()

	client := slackTestClient(server)
	history, err := client.FetchChannelHistory(context.Background(), "t", "C1", start, end)
	if err != nil {
		t.Fatalf("FetchChannelHistory: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("messages = %d, want 2 (end boundary excluded)", len(history))
	}
	for _, msg := range history {
		if msg.TS == "1700003600.000000" {
			t.Error("message posted at the end boundary must be dropped")
		}
	}
	found := false
	for _, msg := range history {
		if msg.TS == "1700000000.000000" {
			found = true
		}
	}
	if !found {
		t.Error("message posted exactly at the start boundary must be kept")
	}
}

func TestGetChannelStatsPagination(t *testing.T) {
	page := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			if r.URL.Query().Get("cursor") != "" {
				t.Error("first page should carry no cursor")
			}
			_, _ = w.Write([]byte(`{"ok":true,"messages":[{"type":"message","user":"U1","text":"one"}],
				"has_more":true,"response_metadata":{"next_cursor":"abc"}}`))
			return
		}
		if got := r.URL.Query().Get("cursor"); got != "abc" {
			t.Errorf("cursor = %q, want abc", got)
		}
		_, _ = w.Write([]byte(`{"ok":true,"messages":[{"type":"message","user":"U2","text":"two"}],"has_more":false}`))
	}))
	defer server.Close()

	client := slackTestClient(server)
	stats, err := client.GetChannelStats(context.Background(), "t", "C1", time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("GetChannelStats: %v", err)
	}
	if page != 2 {
		t.Fatalf("server saw %d pages, want 2", page)
	}
	if stats.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2 across pages", stats.MessageCount)
	}
}

func TestGetChannelStatsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	}))
	defer server.Close()

	client := slackTestClient(server)
	_, err := client.GetChannelStats(context.Background(), "t", "C1", time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *SlackAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *SlackAPIError", err)
	}
	if !apiErr.IsAuthError() {
		t.Error("invalid_auth should classify as an auth error")
	}
}

func TestListChannelsSkipsArchived(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.list" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"channels":[
			{"id":"C1","name":"general","is_archived":false},
			{"id":"C2","name":"graveyard","is_archived":true}
		]}`))
	}))
	defer server.Close()

	client := slackTestClient(server)
	channels, err := client.ListChannels(context.Background(), "t")
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != "C1" {
		t.Fatalf("channels = %+v, archived ones must be skipped", channels)
	}
}

func TestSlackAPIErrorClassification(t *testing.T) {
	auth := []string{"token_expired", "invalid_auth", "token_revoked"}
	for _, code := range auth {
		if !(&SlackAPIError{Code: code}).IsAuthError() {
			t.Errorf("%s should be an auth error", code)
		}
	}
	if (&SlackAPIError{Code: "ratelimited"}).IsAuthError() {
		t.Error("ratelimited is not an auth error")
	}
}
