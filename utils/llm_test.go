package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildAnalysisPrompt(t *testing.T) {
	prompt := BuildAnalysisPrompt(PromptInput{
		ChannelName:      "general",
		PeriodStart:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:        time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC),
		MessageCount:     10,
		ParticipantCount: 3,
		ThreadCount:      2,
		ReactionCount:    5,
		Transcript:       "<@U111>: hello <@U222>\n",
	})

	for _, want := range []string{
		"#general",
		"2026-08-01",
		"2026-08-08",
		"Messages: 10",
		"#SUMMARY",
		"#TOPIC ANALYSIS",
		"#CONTRIBUTOR INSIGHTS",
		"#KEY HIGHLIGHTS",
		"<@U111>: hello <@U222>",
		"<@U12345>",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseAnalysisSections(t *testing.T) {
	text := "#SUMMARY\nShort week.\n#TOPIC ANALYSIS\nMostly releases.\n" +
		"#CONTRIBUTOR INSIGHTS\n<@U333> did reviews.\n#KEY HIGHLIGHTS\nShipped v2."

	sections := ParseAnalysisSections(text)
	if sections.Summary != "Short week." {
		t.Errorf("Summary = %q", sections.Summary)
	}
	if sections.TopicAnalysis != "Mostly releases." {
		t.Errorf("TopicAnalysis = %q", sections.TopicAnalysis)
	}
	if sections.ContributorInsights != "<@U333> did reviews." {
		t.Errorf("ContributorInsights = %q", sections.ContributorInsights)
	}
	if sections.KeyHighlights != "Shipped v2." {
		t.Errorf("KeyHighlights = %q", sections.KeyHighlights)
	}
}

func TestParseAnalysisSectionsWithoutHeaders(t *testing.T) {
	sections := ParseAnalysisSections("  the model ignored the format  ")
	if sections.Summary != "the model ignored the format" {
		t.Errorf("Summary = %q, want the whole text", sections.Summary)
	}
	if sections.TopicAnalysis != "" || sections.KeyHighlights != "" {
		t.Error("other sections should stay empty")
	}
}

func TestParseAnalysisSectionsPartialHeaders(t *testing.T) {
	sections := ParseAnalysisSections("#SUMMARY\nOnly a summary came back.")
	if sections.Summary != "Only a summary came back." {
		t.Errorf("Summary = %q", sections.Summary)
	}
	if sections.TopicAnalysis != "" {
		t.Errorf("TopicAnalysis = %q, want empty", sections.TopicAnalysis)
	}
}

func TestRenderTranscript(t *testing.T) {
	messages := []SlackMessage{
		{User: "U111", Text: "ping <@U222>"},
		{User: "", Text: "orphan message"},
		{User: "U333", Text: "   "},
	}

	out := RenderTranscript(messages, 10)
	if !strings.Contains(out, "<@U111>: ping <@U222>") {
		t.Errorf("transcript = %q, mentions must pass through verbatim", out)
	}
	if !strings.Contains(out, "<@unknown>: orphan message") {
		t.Errorf("transcript = %q, authorless messages get a placeholder", out)
	}
	if strings.Contains(out, "U333") {
		t.Error("blank messages should be skipped")
	}

	bounded := RenderTranscript(messages, 1)
	if strings.Contains(bounded, "orphan") {
		t.Error("transcript must honor the max bound")
	}
}

func TestLLMClientComplete(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"#SUMMARY\nall good"}}]}`))
	}))
	defer server.Close()

	client := &LLMClient{
		BaseURL:    server.URL,
		APIKey:     "sk-test",
		Model:      "gpt-4o-mini",
		HTTPClient: server.Client(),
	}

	text, raw, err := client.Complete(context.Background(), "analyze this")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "#SUMMARY\nall good" {
		t.Errorf("text = %q", text)
	}
	if raw == "" {
		t.Error("raw response should be returned for audit")
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestLLMClientCompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	client := &LLMClient{BaseURL: server.URL, APIKey: "sk-test", Model: "m", HTTPClient: server.Client()}
	_, raw, err := client.Complete(context.Background(), "x")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
	if !strings.Contains(raw, "rate limited") {
		t.Errorf("raw = %q, want the provider body preserved", raw)
	}
}
