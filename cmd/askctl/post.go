package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"askbridge/internal/relay"

	"github.com/spf13/cobra"
)

var (
	postChannel string
	postThread  string
	postMention string
)

var postCmd = &cobra.Command{
	Use:   "post [text...]",
	Short: "Post a message to a Slack channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if postChannel == "" {
			return fmt.Errorf("--channel is required")
		}
		if len(args) == 0 {
			return fmt.Errorf("provide the message text")
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		poster := relay.NewPoster(botToken, 10*time.Second, logger)

		err := poster.Post(cmd.Context(), relay.Message{
			Channel:     postChannel,
			Text:        strings.Join(args, " "),
			ThreadTS:    postThread,
			MentionUser: postMention,
		})
		if err != nil {
			return err
		}
		fmt.Println("posted")
		return nil
	},
}

func init() {
	postCmd.Flags().StringVar(&postChannel, "channel", "", "channel ID (required)")
	postCmd.Flags().StringVar(&postThread, "thread", "", "thread timestamp to reply under")
	postCmd.Flags().StringVar(&postMention, "mention", "", "user ID to mention")
}
