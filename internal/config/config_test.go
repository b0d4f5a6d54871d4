package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithValidSources(t *testing.T) {
	t.Setenv("SOURCES", "bridge1:9000, bridge2:9000,,bridge3:9000")
	t.Setenv("OUTPUT_DIR", "/test/output")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	expectedSources := []string{"bridge1:9000", "bridge2:9000", "bridge3:9000"}
	if len(config.Sources) != len(expectedSources) {
		t.Fatalf("Expected %d sources, got %d", len(expectedSources), len(config.Sources))
	}
	for i, source := range expectedSources {
		if config.Sources[i] != source {
			t.Errorf("Expected source[%d] = %s, got %s", i, source, config.Sources[i])
		}
	}
	if config.OutputDir != "/test/output" {
		t.Errorf("Expected OutputDir = /test/output, got %s", config.OutputDir)
	}
	if err := config.RequireSources(); err != nil {
		t.Errorf("RequireSources() = %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SOURCES", "")
	t.Setenv("CONFIG_FILE", "")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"OutputDir", config.OutputDir, "./logs"},
		{"DataDir", config.DataDir, "./data"},
		{"NATSURL", config.NATSURL, "nats://nats:4222"},
		{"RedisAddr", config.RedisAddr, "redis:6379"},
		{"HTTPAddr", config.HTTPAddr, ":8080"},
		{"StoreBackend", config.StoreBackend, BackendSQLite},
		{"TimeLayout", config.TimeLayout, "02.01.2006, 15:04:05"},
		{"Log.Level", config.Log.Level, "info"},
		{"Log.Format", config.Log.Format, "text"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if config.HistoryMax != 100 {
		t.Errorf("HistoryMax = %d, want 100", config.HistoryMax)
	}
	if config.Target != nil {
		t.Errorf("Target should be unset, got %+v", config.Target)
	}
	if !errors.Is(config.RequireSources(), ErrNoSources) {
		t.Error("RequireSources() should fail without sources")
	}
}

func TestLoad_Target(t *testing.T) {
	t.Setenv("TARGET_LAT", "55.241867")
	t.Setenv("TARGET_LON", "72.908588")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if config.Target == nil || config.Target.Latitude != 55.241867 || config.Target.Longitude != 72.908588 {
		t.Errorf("Unexpected target %+v", config.Target)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"half target", map[string]string{"TARGET_LAT": "55.2"}},
		{"bad latitude", map[string]string{"TARGET_LAT": "north", "TARGET_LON": "72.9"}},
		{"bad history max", map[string]string{"HISTORY_MAX": "lots"}},
		{"bad backend", map[string]string{"STORE_BACKEND": "floppy"}},
		{"bad time zone", map[string]string{"TIME_ZONE": "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Expected Load() to fail")
			}
		})
	}
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mayak.yaml")
	content := `
sources: [yaml-bridge:9000]
nats_url: nats://yaml:4222
store_backend: memory
history_max: 25
target:
  latitude: 1.5
  longitude: 2.5
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("NATS_URL", "nats://env:4222")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(config.Sources) != 1 || config.Sources[0] != "yaml-bridge:9000" {
		t.Errorf("Sources = %v", config.Sources)
	}
	if config.NATSURL != "nats://env:4222" {
		t.Errorf("Environment should override the file, got %s", config.NATSURL)
	}
	if config.StoreBackend != BackendMemory || config.HistoryMax != 25 {
		t.Errorf("Unexpected backend %s / history max %d", config.StoreBackend, config.HistoryMax)
	}
	if config.Target == nil || config.Target.Longitude != 2.5 {
		t.Errorf("Unexpected target %+v", config.Target)
	}
	if config.Log.Level != "debug" || config.Log.Format != "json" {
		t.Errorf("Unexpected log config %+v", config.Log)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Expected Load() to fail for a missing config file")
	}
}

func TestConfig_Location(t *testing.T) {
	c := &Config{}
	loc, err := c.Location()
	if err != nil || loc != time.Local {
		t.Errorf("Empty TimeZone should use Local, got %v, %v", loc, err)
	}
	c.TimeZone = "UTC"
	loc, err = c.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
}
