package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/docutag/shopscraper/config"
	"github.com/docutag/shopscraper/models"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"})
	logger.Debug("hidden")
	logger.Info("page ingested", "source", "alza")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "page ingested" || entry["source"] != "alza" {
		t.Errorf("unexpected entry %v", entry)
	}

	buf.Reset()
	newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "text"}).Debug("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestSelectSources(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{SourceID: "alza"}, {SourceID: "expert"}, {SourceID: "datart"}}

	if err := selectSources(&cfg, []string{"datart", "alza"}); err != nil {
		t.Fatalf("selectSources: %v", err)
	}
	var got []string
	for _, s := range cfg.Sources {
		got = append(got, s.SourceID)
	}
	if diff := cmp.Diff([]string{"datart", "alza"}, got); diff != "" {
		t.Errorf("selected sources mismatch (-want +got):\n%s", diff)
	}

	if err := selectSources(&cfg, []string{"missing"}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRenderProducts(t *testing.T) {
	price := 499.9
	cat := "Telefony"
	products := []models.ProductRecord{
		{Title: "Phone X", SourceID: "alza", Price: &price, Category: &cat},
		{Title: "Mystery Box", SourceID: "expert"},
	}

	var buf bytes.Buffer
	renderProducts(&buf, products, false)
	out := buf.String()
	for _, want := range []string{"Phone X", "499.90", "Telefony", "Mystery Box", "-"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}

	long := strings.Repeat("Televize ", 10)
	buf.Reset()
	renderProducts(&buf, []models.ProductRecord{{Title: long, SourceID: "expert"}}, false)
	if strings.Contains(buf.String(), long) || !strings.Contains(buf.String(), "…") {
		t.Errorf("expected truncated title, got:\n%s", buf.String())
	}

	buf.Reset()
	renderProducts(&buf, products, true)
	if !strings.Contains(buf.String(), "| Phone X |") {
		t.Errorf("expected markdown row, got:\n%s", buf.String())
	}
}
