package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Agent.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected default model: %q", cfg.Agent.Model)
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("unexpected default SMTP port: %d", cfg.SMTP.Port)
	}
	if cfg.Scheduler.Location().String() != "UTC" {
		t.Fatalf("unexpected default timezone: %s", cfg.Scheduler.Location())
	}
}

func TestLoadYAMLFileMerge(t *testing.T) {
	raw := `
scheduler:
  timezone: Asia/Shanghai
agent:
  model: custom-model
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()

	if cfg.Agent.Model != "custom-model" {
		t.Fatalf("file override not applied: %q", cfg.Agent.Model)
	}
	if cfg.Scheduler.Location().String() != "Asia/Shanghai" {
		t.Fatalf("timezone not bound: %s", cfg.Scheduler.Location())
	}
	// Fields absent from the file keep their defaults.
	if cfg.Agent.Endpoint == "" {
		t.Fatal("default endpoint lost during merge")
	}
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	raw := `
agent:
  model: from-file
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(agentModelEnv, "from-env")
	t.Setenv(databaseDSNEnv, "postgres://env/db")

	cfg := Load()

	if cfg.Agent.Model != "from-env" {
		t.Fatalf("env override lost: %q", cfg.Agent.Model)
	}
	if cfg.Database.DSN != "postgres://env/db" {
		t.Fatalf("dsn override lost: %q", cfg.Database.DSN)
	}
}

func TestBindTimezoneUnknownFallsBack(t *testing.T) {
	cfg := defaultConfig()
	cfg.Scheduler.Timezone = "Not/AZone"
	cfg.bindTimezone()

	if cfg.Scheduler.Location().String() != "UTC" {
		t.Fatalf("unknown timezone should fall back to UTC, got %s", cfg.Scheduler.Location())
	}
}
