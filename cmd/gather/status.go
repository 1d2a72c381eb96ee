package main

import (
	"context"
	"fmt"
	"time"

	gather "github.com/gatherhq/gather-sdk-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and fetch live account info.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, gather.DefaultBaseURL))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:     %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:     (not set)")
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.DisplayName != "" {
			fmt.Printf("  Name:      %s\n", cfg.Auth.DisplayName)
			fmt.Printf("  User ID:   %s\n", cfg.Auth.UserID)
		} else {
			fmt.Println("  Name:      (not cached; run 'gather status' with a valid token)")
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		// Live check.
		fmt.Println()
		fmt.Println("Live status:")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Account().Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}

		fmt.Printf("  Username:     %s\n", me.Username)
		fmt.Printf("  Display Name: %s\n", me.DisplayName)
		fmt.Printf("  User ID:      %s\n", me.ID)

		// Cache identity so later commands can label own messages offline.
		cfg.Auth.UserID = me.ID
		cfg.Auth.DisplayName = me.DisplayName
		if err := saveConfig(cfg); err != nil {
			fmt.Printf("  Warning: could not cache identity: %v\n", err)
		}
		return nil
	},
}

// maskKey shows the first 12 and last 4 characters of a key. Keys too
// short to mask meaningfully are fully elided.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "..."
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
