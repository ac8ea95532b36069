package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AUTOPILOT_HOME", home)
	t.Setenv("AUTOPILOT_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ConsoleAPIBaseURL != defaultConsoleBaseURL {
		t.Errorf("ConsoleAPIBaseURL = %q", cfg.ConsoleAPIBaseURL)
	}
	if cfg.LoopInterval() != 120*time.Second {
		t.Errorf("LoopInterval() = %v", cfg.LoopInterval())
	}
	if cfg.DSN() != filepath.Join(home, "autopilot.db") {
		t.Errorf("DSN() = %q", cfg.DSN())
	}
	if cfg.Policy.MaxActionsPerHour != 10 || cfg.Policy.RedeployCooldownSeconds != 7200 {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
	if cfg.HTTPAddr != ":8000" || cfg.KafkaTopic != "autopilot.ledger" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("AUTOPILOT_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	content := `
loop_interval: 30
recommender_model: file-model
policy:
  max_actions_per_hour: 2
  max_replicas: 6
kafka_brokers: [a:9092]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LOOP_INTERVAL", "45")
	t.Setenv("MAX_REPLICAS", "8")
	t.Setenv("KAFKA_BROKERS", "b:9092, c:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LoopIntervalSeconds != 45 {
		t.Errorf("LoopIntervalSeconds = %d, want env value 45", cfg.LoopIntervalSeconds)
	}
	if cfg.RecommenderModel != "file-model" {
		t.Errorf("RecommenderModel = %q, want file value", cfg.RecommenderModel)
	}
	if cfg.Policy.MaxActionsPerHour != 2 || cfg.Policy.MaxReplicas != 8 {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
	if cfg.Policy.MaxActionsPerDay != 50 {
		t.Errorf("unset policy key lost its default: %+v", cfg.Policy)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "c:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("AUTOPILOT_HOME", t.TempDir())

	t.Run("bad interval", func(t *testing.T) {
		t.Setenv("LOOP_INTERVAL", "0")
		if _, err := Load(""); err == nil {
			t.Error("Load() accepted a zero interval")
		}
	})

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		if _, err := Load(""); err == nil {
			t.Error("Load() accepted postgres without DATABASE_URL")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("Load() accepted a missing config file")
		}
	})
}

func TestMockSelection(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		mockDeploy bool
		mockRec    bool
	}{
		{"no keys", Config{}, true, true},
		{"placeholder keys", Config{ConsoleAPIKey: "your_console_key", RecommenderAPIKey: "your_key"}, true, true},
		{"real keys", Config{ConsoleAPIKey: "ck", RecommenderAPIKey: "rk"}, false, false},
		{"forced", Config{ConsoleAPIKey: "ck", RecommenderAPIKey: "rk", UseMockAPIs: true}, true, true},
		{"mixed", Config{ConsoleAPIKey: "ck"}, false, true},
	}

	for _, tt := range tests {
		if got := tt.cfg.MockDeployments(); got != tt.mockDeploy {
			t.Errorf("%s: MockDeployments() = %v", tt.name, got)
		}
		if got := tt.cfg.MockRecommender(); got != tt.mockRec {
			t.Errorf("%s: MockRecommender() = %v", tt.name, got)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/x/db"); got != filepath.Join(home, "x/db") {
		t.Errorf("expandHome() = %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Errorf("expandHome(/abs) = %q", got)
	}
}

func TestDSNForDisplay(t *testing.T) {
	pg := Config{DBDriver: "postgres", DatabaseURL: "postgres://autopilot:s3cret@db:5432/autopilot"}
	if got := pg.DSNForDisplay(); got != "postgres://autopilot:xxxxx@db:5432/autopilot" {
		t.Errorf("DSNForDisplay() = %q", got)
	}

	lite := Config{DBDriver: "sqlite", DBPath: "/var/lib/autopilot.db"}
	if got := lite.DSNForDisplay(); got != "/var/lib/autopilot.db" {
		t.Errorf("DSNForDisplay() = %q", got)
	}
}
