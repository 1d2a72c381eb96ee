package main

import (
	"fmt"
	"os"
	"path/filepath"

	gather "github.com/gatherhq/gather-sdk-go"
)

// getClient creates a Gather client authenticated with the stored token.
func getClient() *gather.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'gather init <token>' first.")
		os.Exit(1)
	}

	var opts []gather.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gather.WithBaseURL(cfg.Default.BaseURL))
	}

	return gather.NewClient(cfg.Auth.Token, opts...)
}

// flagCachePath resolves the durable flag-cache location from config,
// defaulting to flags.db next to the config file.
func flagCachePath(cfg *Config) (string, error) {
	if cfg.Default.FlagCache != "" {
		return cfg.Default.FlagCache, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "flags.db"), nil
}
