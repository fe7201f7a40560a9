package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dalexandrias/marketwatch/internal/config"
)

func TestBuildOpener_Modes(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.yaml")
	if err := os.WriteFile(fixture, []byte("results: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"default is http", config.Config{}, "*fetch.HTTPOpener"},
		{"http", config.Config{FetchMode: "http"}, "*fetch.HTTPOpener"},
		{"browser", config.Config{FetchMode: "browser", BrowserHeadless: true}, "*fetch.BrowserOpener"},
		{"feed", config.Config{FetchMode: "feed"}, "*fetch.FeedOpener"},
		{"static", config.Config{FetchMode: "static", FetchStaticFile: fixture}, "*fetch.StaticOpener"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener, err := buildOpener(tt.cfg)
			if err != nil {
				t.Fatalf("buildOpener: %v", err)
			}
			if got := fmt.Sprintf("%T", opener); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBuildOpener_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"unknown mode", config.Config{FetchMode: "carrier-pigeon"}},
		{"missing fixture", config.Config{FetchMode: "static", FetchStaticFile: filepath.Join(t.TempDir(), "nope.yaml")}},
		{"bad id pattern", config.Config{FetchIDPattern: "("}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildOpener(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestBuildSinks_Order(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer client.Close()

	cfg := config.Config{
		NotifySinks:             []string{"webhook", "console", "redis", "file"},
		NotifyFilePath:          filepath.Join(t.TempDir(), "out.json"),
		NotifyFileFormat:        "json",
		NotifyWebhookURL:        "http://localhost:9000/hook",
		NotifyWebhookTimeout:    time.Second,
		NotifyRedisChannel:      "marketwatch:listings",
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  time.Minute,
	}

	sinks, err := buildSinks(cfg, client, nil)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}

	want := []string{"webhook", "console", "redis", "file"}
	if len(sinks) != len(want) {
		t.Fatalf("got %d sinks, want %d", len(sinks), len(want))
	}
	for i, s := range sinks {
		if s.Name() != want[i] {
			t.Errorf("sinks[%d] = %s, want %s", i, s.Name(), want[i])
		}
	}
}

func TestBuildSinks_Empty(t *testing.T) {
	sinks, err := buildSinks(config.Config{}, nil, nil)
	if err != nil {
		t.Fatalf("buildSinks: %v", err)
	}
	if len(sinks) != 0 {
		t.Errorf("got %d sinks, want 0", len(sinks))
	}
}

func TestBuildSinks_Errors(t *testing.T) {
	tests := []struct {
		name  string
		sinks []string
	}{
		{"redis without client", []string{"redis"}},
		{"unknown sink", []string{"pager"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildSinks(config.Config{NotifySinks: tt.sinks}, nil, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
