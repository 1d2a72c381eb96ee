package main

import (
	"context"
	"fmt"
	"time"

	gather "github.com/gatherhq/gather-sdk-go"
	"github.com/spf13/cobra"
)

var feedLimit int

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedLikeCmd)
	feedCmd.AddCommand(feedCommentCmd)

	feedListCmd.Flags().IntVar(&feedLimit, "limit", 20, "maximum number of posts")
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Activity feed commands",
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		posts, likedIDs, err := client.Posts().List(ctx, &gather.PaginationOptions{Limit: feedLimit})
		if err != nil {
			return err
		}
		liked := make(map[string]bool, len(likedIDs))
		for _, id := range likedIDs {
			liked[id] = true
		}
		for _, p := range posts {
			mark := " "
			if liked[p.ID] {
				mark = "*"
			}
			fmt.Printf("%s %s  %d likes, %d comments\n", mark, p.ID, p.ReactionCount, p.CommentCount)
			fmt.Printf("    %s\n", p.Content)
		}
		return nil
	},
}

var feedLikeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Toggle your reaction on a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		count, err := client.Posts().ToggleLike(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Post now has %d likes\n", count)
		return nil
	},
}

var feedCommentCmd = &cobra.Command{
	Use:   "comment <post-id> <content>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		comment, count, err := client.Comments().Add(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Added comment %s (post now has %d comments)\n", comment.ID, count)
		return nil
	},
}
