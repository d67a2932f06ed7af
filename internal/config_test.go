package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/revsync/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Sync.Parallelism != 3 {
		t.Errorf("parallelism = %d, want 3", cfg.Sync.Parallelism)
	}
	if cfg.Sync.ChunkSize != 4<<20 {
		t.Errorf("chunk size = %d, want 4 MiB", cfg.Sync.ChunkSize)
	}
}

func TestRemoteConfig_BadURL(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remote.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad base_url should fail validation")
	}
}

func TestSyncConfig_ZeroParallelism(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sync.Parallelism = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero parallelism should fail validation")
	}
}

func TestSubscribeConfig_BackoffOrder(t *testing.T) {
	cfg := SubscribeConfig{Enabled: true, BaseBackoff: 5 * time.Second, MaxBackoff: time.Second}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "max_backoff") {
		t.Fatalf("err = %v, want max_backoff error", err)
	}

	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled subscribe should skip validation: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("REVSYNC_TEST_TOKEN", "from-env")
	yml := `
app:
  log_level: debug
  http:
    port: 9090
remote:
  base_url: http://store.local:9090
  access_token: ${REVSYNC_TEST_TOKEN}
  timeout: 5s
sync:
  chunk_size: 1024
  parallelism: 2
  watch_dir: ./inbox
  debounce: 250ms
subscribe:
  enabled: true
  resubscribe_on_close: false
  base_backoff: 200ms
  max_backoff: 2s
  max_retries: 4
store:
  blob_path: ./b
  sqlite_path: ./i.db
auth:
  mode: token
  token: s3cret
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.AccessToken != "from-env" {
		t.Errorf("access token = %q, want env expansion", cfg.Remote.AccessToken)
	}
	if cfg.Remote.Timeout != 5*time.Second || cfg.Sync.Debounce != 250*time.Millisecond {
		t.Errorf("durations = %s / %s", cfg.Remote.Timeout, cfg.Sync.Debounce)
	}
	if cfg.Sync.ChunkSize != 1024 || cfg.Sync.Parallelism != 2 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Subscribe.ResubscribeOnClose || cfg.Subscribe.MaxRetries != 4 {
		t.Errorf("subscribe = %+v", cfg.Subscribe)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if !cfg.Auth.AuthEnabled() {
		t.Error("auth should be enabled")
	}
}
