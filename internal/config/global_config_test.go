package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestUserConfigPath(t *testing.T) {
	path, err := UserConfigPath()
	if err != nil {
		t.Fatalf("UserConfigPath() error = %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("UserConfigPath() = %q, want absolute path", path)
	}
	if !strings.HasSuffix(path, filepath.Join(".config", "rivalscope", "config.yaml")) {
		t.Errorf("UserConfigPath() = %q, want .config/rivalscope/config.yaml suffix", path)
	}
}

func TestWriteDefaultConfig_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	wrote, err := WriteDefaultConfig(path, false)
	if err != nil {
		t.Fatalf("WriteDefaultConfig() error = %v", err)
	}
	if wrote {
		t.Error("existing file must not be overwritten without force")
	}

	wrote, err = WriteDefaultConfig(path, true)
	if err != nil || !wrote {
		t.Fatalf("forced WriteDefaultConfig() = %v, %v", wrote, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != DefaultConfigYAML {
		t.Error("forced write should contain the default config")
	}
}
