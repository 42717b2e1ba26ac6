package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/averol/huddlebot/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const minimalConfig = `
bot:
  app_id: "00000000-0000-0000-0000-000000000001"
  app_password: "secret-password"
http:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" || !cfg.Log.JSON {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Bot.ListenAddr != ":3978" {
		t.Errorf("bot.listen_addr = %q, want :3978", cfg.Bot.ListenAddr)
	}
	if !cfg.Bot.VerifyInbound {
		t.Error("bot.verify_inbound default should be true")
	}
	if cfg.HTTP.TokenTTL != time.Hour {
		t.Errorf("http.token_ttl = %v, want 1h", cfg.HTTP.TokenTTL)
	}
	if cfg.Batch.BatchSize != 25 || cfg.Batch.Workers != 8 {
		t.Errorf("batch defaults = %+v", cfg.Batch)
	}
	if task, ok := cfg.Scheduler.Tasks["sql_maintenance"]; !ok || !task.Enabled || task.Schedule != "0 4 * * *" {
		t.Errorf("sql_maintenance task = %+v", cfg.Scheduler.Tasks["sql_maintenance"])
	}
	if cfg.Messages.Welcome == "" || cfg.Messages.MenuPrompt == "" {
		t.Errorf("message defaults missing: %+v", cfg.Messages)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalConfig+`
log:
  level: debug
  json: false
batch:
  batch_size: 5
messages:
  welcome: "Hallo!"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.JSON {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Batch.BatchSize != 5 {
		t.Errorf("batch_size = %d, want 5", cfg.Batch.BatchSize)
	}
	if cfg.Messages.Welcome != "Hallo!" {
		t.Errorf("welcome = %q", cfg.Messages.Welcome)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "Missing bot credentials",
			content: `
http:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`,
		},
		{
			name: "Short JWT secret",
			content: `
bot:
  app_id: "id"
  app_password: "pw"
http:
  jwt_secret: "short"
`,
		},
		{
			name: "Bad log level",
			content: minimalConfig + `
log:
  level: noisy
`,
		},
		{
			name: "Graph enabled without credentials",
			content: minimalConfig + `
graph:
  enabled: true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() expected validation error, got nil")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// Required values come from the environment instead of a file.
	t.Setenv("BOT_BOT_APP_ID", "00000000-0000-0000-0000-000000000001")
	t.Setenv("BOT_BOT_APP_PASSWORD", "secret-password")
	t.Setenv("BOT_HTTP_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.AppID != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("app_id = %q", cfg.Bot.AppID)
	}
}
