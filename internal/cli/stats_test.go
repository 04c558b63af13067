package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/threadline/internal/store"
)

var statsNow = time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)

func TestPrintStats(t *testing.T) {
	stats := []store.SourceStats{
		{Source: "mastodon", Channel: "mastodon.social", Total: 47, Liked: 5, Reposts: 3, LastSeen: statsNow.Add(-time.Hour)},
		{Source: "reddit", Channel: "r/golang", Total: 100, Liked: 0, Reposts: 0, LastSeen: statsNow.Add(-2 * time.Hour)},
	}

	var buf bytes.Buffer
	printStats(&buf, stats, 2, 30*24*time.Hour, statsNow)
	output := buf.String()

	if !strings.Contains(output, "147 posts from 2 channels, 2 open gaps") {
		t.Errorf("header missing totals, got:\n%s", output)
	}
	if !strings.Contains(output, "30 days") {
		t.Error("missing window in header")
	}
	if !strings.Contains(output, "Posts by Channel") {
		t.Error("missing channel section")
	}
	if !strings.Contains(output, "mastodon/mastodon.social") {
		t.Error("missing mastodon channel")
	}
	if !strings.Contains(output, "1 hour ago") {
		t.Error("missing relative last post time")
	}
	if !strings.Contains(output, "Liked: 5 of 147 posts") {
		t.Errorf("missing liked summary, got:\n%s", output)
	}

	// Busiest channel first.
	if strings.Index(output, "reddit/r/golang") > strings.Index(output, "mastodon/mastodon.social") {
		t.Error("channels should be sorted by post count")
	}
}

func TestPrintStats_StaleChannels(t *testing.T) {
	stats := []store.SourceStats{
		{Source: "rss", Channel: "active-feed", Total: 10, LastSeen: statsNow},
		{Source: "rss", Channel: "stale-feed", Total: 5, LastSeen: statsNow.AddDate(0, 0, -14)},
	}

	var buf bytes.Buffer
	printStats(&buf, stats, 0, 30*24*time.Hour, statsNow)
	output := buf.String()

	if !strings.Contains(output, "Stale Channels") {
		t.Error("missing stale channels section")
	}
	if !strings.Contains(output, "rss/stale-feed: last post 14 days ago") {
		t.Errorf("missing stale-feed in stale section, got:\n%s", output)
	}
	if strings.Contains(output, "active-feed: last post") {
		t.Error("active-feed should not appear in stale section")
	}
	if strings.Contains(output, "Liked:") {
		t.Error("liked summary should be omitted with no likes")
	}
}

func TestPrintStatsJSON(t *testing.T) {
	stats := []store.SourceStats{
		{Source: "hn", Channel: "", Total: 12, Liked: 0, Reposts: 0, LastSeen: statsNow},
		{Source: "mastodon", Channel: "mastodon.social", Total: 30, Liked: 4, Reposts: 6, LastSeen: statsNow},
	}

	var buf bytes.Buffer
	if err := printStatsJSON(&buf, stats, 3); err != nil {
		t.Fatalf("print stats json: %v", err)
	}

	var got jsonStatsOutput
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("parse json: %v\noutput:\n%s", err, buf.String())
	}

	if len(got.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(got.Channels))
	}
	m := got.Channels[1]
	if m.Source != "mastodon" || m.Total != 30 || m.Liked != 4 || m.Reposts != 6 {
		t.Errorf("unexpected channel: %+v", m)
	}
	if m.LastSeen != "2026-02-16T12:00:00Z" {
		t.Errorf("last_seen = %q", m.LastSeen)
	}

	if got.Totals.Posts != 42 || got.Totals.Liked != 4 || got.Totals.Reposts != 6 || got.Totals.Gaps != 3 {
		t.Errorf("totals = %+v", got.Totals)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"48h", 48 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"bad", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if tt.err && err == nil {
			t.Errorf("parseDuration(%q) expected error", tt.input)
			continue
		}
		if !tt.err && err != nil {
			t.Errorf("parseDuration(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPct(t *testing.T) {
	tests := []struct {
		n, total int
		want     float64
	}{
		{5, 10, 50},
		{0, 0, 0},
		{10, 10, 100},
	}
	for _, tt := range tests {
		if got := pct(tt.n, tt.total); got != tt.want {
			t.Errorf("pct(%d, %d) = %v, want %v", tt.n, tt.total, got, tt.want)
		}
	}
}
