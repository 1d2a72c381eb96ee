package main

import (
	"context"
	"fmt"
	"os"
	"time"

	gather "github.com/gatherhq/gather-sdk-go"
	"github.com/spf13/cobra"
)

var (
	sendReplyTo  string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(imCmd)
	imCmd.AddCommand(imListCmd)
	imCmd.AddCommand(imHistoryCmd)
	imCmd.AddCommand(imSendCmd)
	imCmd.AddCommand(imExportCmd)

	imSendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "message ID to reply to")
	imHistoryCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum number of messages")
}

var imCmd = &cobra.Command{
	Use:   "im",
	Short: "Direct messaging commands",
}

var imListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convs, err := client.Conversations().List(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Printf("%s  %s%s\n", c.ID, c.PartnerName, unread)
			if c.LastMessage != "" {
				fmt.Printf("    %s\n", c.LastMessage)
			}
		}
		return nil
	},
}

var imHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.Messages().History(ctx, args[0], &gather.PaginationOptions{Limit: historyLimit})
		if err != nil {
			return err
		}
		for _, m := range msgs {
			who := m.SenderID
			if m.SenderID == cfg.Auth.UserID {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.SentAt, who, m.Content)
		}
		return nil
	},
}

var imSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *gather.SendOptions
		if sendReplyTo != "" {
			opts = &gather.SendOptions{ReplyToID: sendReplyTo}
		}

		msg, err := client.Messages().Send(ctx, args[0], args[1], opts)
		if err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var imExportCmd = &cobra.Command{
	Use:   "export <conversation-id> [file]",
	Short: "Export a conversation's history as CSV",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		data, err := client.Conversations().ExportCSV(ctx, args[0])
		if err != nil {
			return err
		}
		if len(args) == 2 {
			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return fmt.Errorf("cannot write export: %w", err)
			}
			fmt.Printf("Wrote %d bytes to %s\n", len(data), args[1])
			return nil
		}
		fmt.Print(string(data))
		return nil
	},
}
