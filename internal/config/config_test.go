package config

import (
	"flag"
	"io"
	"os"
	"reflect"
	"testing"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseClientConfig_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{"a.bin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("expected ServerURL to be http://localhost:8080, got %s", cfg.ServerURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected LogFormat to be text, got %s", cfg.LogFormat)
	}
	if cfg.ShareURL != "" {
		t.Errorf("expected empty ShareURL, got %s", cfg.ShareURL)
	}
	if cfg.OutDir != "." {
		t.Errorf("expected OutDir to be ., got %s", cfg.OutDir)
	}
	if !reflect.DeepEqual(cfg.Args, []string{"a.bin"}) {
		t.Errorf("expected Args [a.bin], got %v", cfg.Args)
	}
}

func TestParseClientConfig_Flags(t *testing.T) {
	os.Clearenv()

	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{
		"-server-url", "https://relay.example",
		"-log-level", "debug",
		"-log-format", "json",
		"-share-url", "https://drop.example/r",
		"-out", "/tmp/in",
		"abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ClientConfig{
		ServerURL: "https://relay.example",
		LogLevel:  "debug",
		LogFormat: "json",
		ShareURL:  "https://drop.example/r",
		OutDir:    "/tmp/in",
		Args:      []string{"abc123"},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("got %+v, want %+v", cfg, want)
	}
}

func TestParseClientConfig_EnvFallback(t *testing.T) {
	os.Clearenv()

	os.Setenv("RELAYDROP_SERVER_URL", "wss://relay.example")
	os.Setenv("RELAYDROP_LOG_LEVEL", "warn")
	os.Setenv("RELAYDROP_SHARE_URL", "https://drop.example/r")
	os.Setenv("RELAYDROP_OUT_DIR", "/srv/in")
	defer os.Clearenv()

	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerURL != "wss://relay.example" {
		t.Errorf("expected ServerURL from env, got %s", cfg.ServerURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn, got %s", cfg.LogLevel)
	}
	if cfg.ShareURL != "https://drop.example/r" {
		t.Errorf("expected ShareURL from env, got %s", cfg.ShareURL)
	}
	if cfg.OutDir != "/srv/in" {
		t.Errorf("expected OutDir from env, got %s", cfg.OutDir)
	}
}

func TestParseClientConfig_FlagsOverrideEnv(t *testing.T) {
	os.Clearenv()

	os.Setenv("RELAYDROP_SERVER_URL", "wss://relay.example")
	os.Setenv("RELAYDROP_LOG_LEVEL", "warn")
	defer os.Clearenv()

	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{"-server-url", "http://127.0.0.1:9000", "-log-level", "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flags should override env
	if cfg.ServerURL != "http://127.0.0.1:9000" {
		t.Errorf("expected ServerURL from flag, got %s", cfg.ServerURL)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (from flag), got %s", cfg.LogLevel)
	}
}

func TestParseClientConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-window", "4"}},
		{"empty server", []string{"-server-url", " "}},
		{"bad scheme", []string{"-server-url", "ftp://relay.example"}},
		{"no host", []string{"-server-url", "http://"}},
		{"bad log format", []string{"-log-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if _, err := parseClientConfigWithFlagSet(newFlagSet(), tt.args); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}
