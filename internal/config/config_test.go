package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "tg-token"
gemini:
  api_key: "gem-key"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MediaGroup.QuiescenceWindow != 5*time.Second || cfg.MediaGroup.MaxAge != 300*time.Second {
		t.Errorf("media group = %+v", cfg.MediaGroup)
	}
	if cfg.Telegram.Workers != 8 {
		t.Errorf("workers = %d", cfg.Telegram.Workers)
	}
	if cfg.Router.HistoryLimit != 20 {
		t.Errorf("history limit = %d", cfg.Router.HistoryLimit)
	}
	task, ok := cfg.Scheduler.Tasks["reminder_delivery"]
	if !ok || !task.Enabled || task.Schedule != "0 * * * * *" {
		t.Errorf("reminder_delivery = %+v", task)
	}
	if cfg.Messages.Reminder != "⏰ Reminder: %s" {
		t.Errorf("reminder message = %q", cfg.Messages.Reminder)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
telegram:
  token: "tg-token"
  allowed_users: ["alice", "42"]
gemini:
  api_key: "gem-key"
  max_tool_steps: 3
media_group:
  quiescence_window: 2s
  max_age: 1m
scheduler:
  tasks:
    sql_maintenance:
      enabled: false
timezone: Europe/Berlin
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if len(cfg.Telegram.AllowedUsers) != 2 || cfg.Telegram.AllowedUsers[1] != "42" {
		t.Errorf("allowed users = %v", cfg.Telegram.AllowedUsers)
	}
	if cfg.Gemini.MaxToolSteps != 3 {
		t.Errorf("max tool steps = %d", cfg.Gemini.MaxToolSteps)
	}
	if cfg.MediaGroup.QuiescenceWindow != 2*time.Second || cfg.MediaGroup.MaxAge != time.Minute {
		t.Errorf("media group = %+v", cfg.MediaGroup)
	}
	if cfg.Scheduler.Tasks["sql_maintenance"].Enabled {
		t.Error("sql_maintenance should be disabled")
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MNEMOBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("MNEMOBOT_GEMINI_API_KEY", "env-key")
	t.Setenv("MNEMOBOT_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Gemini.APIKey != "env-key" {
		t.Errorf("secrets not read from env: %q %q", cfg.Telegram.Token, cfg.Gemini.APIKey)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing token", "gemini:\n  api_key: k\n"},
		{"missing api key", "telegram:\n  token: t\n"},
		{"bad log level", "telegram:\n  token: t\ngemini:\n  api_key: k\nlog:\n  level: loud\n"},
		{"max age below window", "telegram:\n  token: t\ngemini:\n  api_key: k\nmedia_group:\n  quiescence_window: 10s\n  max_age: 5s\n"},
		{"enabled task without schedule", "telegram:\n  token: t\ngemini:\n  api_key: k\nscheduler:\n  tasks:\n    extra:\n      enabled: true\n"},
		{"single worker", "telegram:\n  token: t\n  workers: 1\ngemini:\n  api_key: k\n"},
		{"unknown timezone", "telegram:\n  token: t\ngemini:\n  api_key: k\ntimezone: Mars/Olympus\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}
