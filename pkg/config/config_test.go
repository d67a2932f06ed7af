package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadKeepsDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_TOKEN", "abc")
	p := writeFile(t, "port: 9000\ntoken: ${SAMPLE_TOKEN}\n")

	s := sample{Name: "default", Port: 1}
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "default" || s.Port != 9000 || s.Token != "abc" {
		t.Errorf("loaded = %+v", s)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "port: 9000\nprot: 1\n")
	s := sample{}
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "prot") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestLoadRunsValidator(t *testing.T) {
	p := writeFile(t, "port: 0\n")
	s := sample{}
	if err := Load(p, &s); err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestLoadEmptyFileValidatesDefaults(t *testing.T) {
	p := writeFile(t, "")
	s := sample{Port: 80}
	if err := Load(p, &s); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := sample{}
	if err := Load(filepath.Join(t.TempDir(), "none.yaml"), &s); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
