package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultOutDir    = "."
)

// ClientConfig holds configuration for the send and receive commands.
type ClientConfig struct {
	ServerURL string   // relay base URL (http, https, ws or wss)
	LogLevel  string   // debug, info, warn, error
	LogFormat string   // text or json
	ShareURL  string   // base of share links printed by the sender; empty prints the bare id
	OutDir    string   // where the receiver writes files
	Args      []string // positional arguments left after flags
}

// ParseClientConfig parses configuration for the named command from environment
// variables and args. Flags take precedence over environment variables.
// Defaults: serverURL="http://localhost:8080", logLevel="info", logFormat="text", outDir="."
func ParseClientConfig(name string, args []string) (ClientConfig, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return parseClientConfigWithFlagSet(fs, args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL: defaultServerURL,
		LogLevel:  "info",
		LogFormat: "text",
		OutDir:    defaultOutDir,
	}

	// Read from environment first
	if serverURL := os.Getenv("RELAYDROP_SERVER_URL"); serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel := os.Getenv("RELAYDROP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat := os.Getenv("RELAYDROP_LOG_FORMAT"); logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if shareURL := os.Getenv("RELAYDROP_SHARE_URL"); shareURL != "" {
		cfg.ShareURL = shareURL
	}
	if outDir := os.Getenv("RELAYDROP_OUT_DIR"); outDir != "" {
		cfg.OutDir = outDir
	}

	// Flags override environment
	fs.StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "relay server URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	fs.StringVar(&cfg.ShareURL, "share-url", cfg.ShareURL, "base URL for share links (sender)")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "output directory (receiver)")
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid server URL %q: scheme must be http, https, ws or wss", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", c.ServerURL)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return nil
}
