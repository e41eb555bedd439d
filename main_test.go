package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0madic/go-xaigate/internal/toolcheck"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("XAI_API_KEY", "xai-from-env")
	t.Setenv("API_RATE_LIMIT", "7")

	path := writeFile(t, "gateway.yaml", "host: 0.0.0.0\nport: 9000\nrate_limit: 50\n")
	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })

	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--port", "9100"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.APIKey != "xai-from-env" {
		t.Errorf("api key from env: got %q", cfg.APIKey)
	}
	if cfg.Host != "0.0.0.0" {
		t.Errorf("host from file: got %q", cfg.Host)
	}
	if cfg.RateLimit != 50 {
		t.Errorf("file should override env: got %d", cfg.RateLimit)
	}
	if cfg.Port != 9100 {
		t.Errorf("flag should override file: got %d", cfg.Port)
	}
}

func TestCheckToolsCommand(t *testing.T) {
	valid := writeFile(t, "tools.json", `{
		"tools": [{"type":"function","function":{"name":"get_weather","description":"Look up the weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}],
		"tool_choice": {"type":"function","function":{"name":"get_weather"}}
	}`)
	bare := writeFile(t, "bare.json", `[{"type":"function","function":{"name":"lookup","description":"Look up a record"}}]`)
	badName := writeFile(t, "bad.json", `[{"type":"function","function":{"name":"bad name!","description":"Broken"}}]`)
	badChoice := writeFile(t, "choice.json", `{"tools":[{"type":"function","function":{"name":"a","description":"First"}}],"tool_choice":{"type":"function","function":{"name":"b"}}}`)

	for _, path := range []string{valid, bare} {
		root := newRootCmd()
		root.SetArgs([]string{"check-tools", path})
		if err := root.Execute(); err != nil {
			t.Fatalf("%s: unexpected error: %v", filepath.Base(path), err)
		}
	}

	for _, path := range []string{badName, badChoice} {
		root := newRootCmd()
		root.SetArgs([]string{"check-tools", path})
		err := root.Execute()
		var ve *toolcheck.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected a validation error, got %v", filepath.Base(path), err)
		}
	}
}

func TestServeRequiresAPIKey(t *testing.T) {
	t.Setenv("XAI_API_KEY", "")
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--port", "0"})
	if err := root.Execute(); err == nil {
		t.Fatal("serve should refuse to start without an API key")
	}
}
