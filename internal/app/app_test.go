package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/hitoshi/eyescreen/internal/config"
	"github.com/hitoshi/eyescreen/internal/storage"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.DatabaseURL != unreachableDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, unreachableDatabaseURL)
	}

	// グローバルロガーがJSON出力に設定されていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
	if entry["service"] != "eyescreen" {
		t.Errorf("service = %v, want eyescreen", entry["service"])
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("INFERENCE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestNewOAuthProvider_WithoutCredentials_ReturnsNil(t *testing.T) {
	cfg := &config.Config{}
	if p := newOAuthProvider(cfg); p != nil {
		t.Errorf("expected nil provider, got %T", p)
	}

	cfg = &config.Config{
		GoogleClientID:     "id",
		GoogleClientSecret: "secret",
		GoogleRedirectURL:  "http://localhost:8080/auth/google/callback",
	}
	if p := newOAuthProvider(cfg); p == nil {
		t.Error("expected provider when credentials are set")
	}
}

func TestNewImageStore_WithoutBucket_IsDisabled(t *testing.T) {
	store, err := newImageStore(t.Context(), &config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(storage.DisabledStore); !ok {
		t.Errorf("store = %T, want storage.DisabledStore", store)
	}
}

func TestNewRateLimiterConfig_ConvertsPerMinute(t *testing.T) {
	cfg := &config.Config{RateLimitGeneral: 120, RateLimitAccessRequest: 6}

	rl := newRateLimiterConfig(cfg)
	if rl.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", rl.GeneralRate)
	}
	if rl.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", rl.GeneralBurst)
	}
	if rl.AccessRequestRate != 0.1 {
		t.Errorf("AccessRequestRate = %v, want 0.1", rl.AccessRequestRate)
	}
	if rl.AccessRequestBurst != 6 {
		t.Errorf("AccessRequestBurst = %d, want 6", rl.AccessRequestBurst)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "パスワードをマスク",
			raw:  "postgres://user:secret@db:5432/eyescreen?sslmode=disable",
			want: "postgres://user:xxxxx@db:5432/eyescreen?sslmode=disable",
		},
		{
			name: "パスワードなし",
			raw:  "postgres://db:5432/eyescreen",
			want: "postgres://db:5432/eyescreen",
		},
		{
			name: "解析不能",
			raw:  "not a url",
			want: "***",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.raw); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
