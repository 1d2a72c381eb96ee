package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gather "github.com/gatherhq/gather-sdk-go"
	"github.com/spf13/cobra"
)

var watchVerbose bool

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "log hub internals")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [conversation-id...]",
	Short: "Stream realtime events to the terminal",
	Long:  "Connect both realtime hubs and print every event as it arrives.\nPass conversation IDs to join their rooms.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		client := getClient()

		level := slog.LevelWarn
		if watchVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cachePath, err := flagCachePath(cfg)
		if err != nil {
			return err
		}
		flags, err := gather.OpenFlagCache(ctx, cachePath)
		if err != nil {
			return fmt.Errorf("failed to open flag cache: %w", err)
		}
		defer flags.Close()

		session := client.Realtime().NewSession(&gather.SessionConfig{
			Flags:  flags,
			Logger: logger,
		})
		defer session.Close()

		printAll(session.MessagingEvents, "messaging", gather.MessagingHubEvents)
		printAll(session.ActivityEvents, "activity", gather.ActivityHubEvents)
		for _, meta := range []string{
			gather.EventConnected, gather.EventReconnecting,
			gather.EventReconnected, gather.EventDisconnected,
		} {
			printOne(session.MessagingEvents, "messaging", meta)
			printOne(session.ActivityEvents, "activity", meta)
		}

		if err := session.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		for _, id := range args {
			if err := session.Rooms.Join(ctx, id); err != nil {
				fmt.Fprintf(os.Stderr, "join %s: %v\n", id, err)
			}
		}

		fmt.Println("Watching. Press Ctrl-C to stop.")
		<-ctx.Done()
		return nil
	},
}

func printAll(d *gather.Dispatcher, hub string, events []string) {
	for _, event := range events {
		printOne(d, hub, event)
	}
}

func printOne(d *gather.Dispatcher, hub, event string) {
	d.Subscribe(event, func(payload json.RawMessage) {
		ts := time.Now().Format("15:04:05")
		if len(payload) == 0 {
			fmt.Printf("%s [%s] %s\n", ts, hub, event)
			return
		}
		fmt.Printf("%s [%s] %s %s\n", ts, hub, event, compactJSON(payload))
	})
}

// compactJSON re-encodes the payload without whitespace for single-line output.
func compactJSON(raw json.RawMessage) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
