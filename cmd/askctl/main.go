// Command askctl is a thin admin CLI for the askbridge relay — it exercises
// the relay's two outbound contracts from a terminal without going through
// Slack: ask a question against the answer backend, and post a message into
// a channel. Useful for smoke-testing credentials and connectivity.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	answerURL     string
	answerKey     string
	answerVersion string
	botToken      string
	jsonOutput    bool
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:   "askctl <command>",
	Short: "askbridge admin CLI",
	Long: `askctl exercises the askbridge outbound contracts directly.

Examples:
  askctl ask "キャンペーンの当選者は何名ですか"
  askctl ask --field 概要="夏のキャンペーン" --field 商品="Widget"
  askctl post --channel C0123456 "deployment finished"`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&answerURL, "answer-url",
		os.Getenv("ANSWER_API_URL"), "answer backend base URL (env: ANSWER_API_URL)")
	rootCmd.PersistentFlags().StringVar(&answerKey, "answer-key",
		os.Getenv("ANSWER_API_KEY"), "answer backend API key (env: ANSWER_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&answerVersion, "answer-version",
		envOr("ANSWER_API_VERSION", "v1"), "answer backend API version (env: ANSWER_API_VERSION)")
	rootCmd.PersistentFlags().StringVar(&botToken, "bot-token",
		os.Getenv("SLACK_BOT_TOKEN"), "Slack bot token (env: SLACK_BOT_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output raw JSON")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(postCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseFieldFlags turns repeated --field label=value flags into a map.
func parseFieldFlags(raw []string) (map[string]string, error) {
	fields := make(map[string]string, len(raw))
	for _, f := range raw {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --field %q, want label=value", f)
		}
		fields[parts[0]] = parts[1]
	}
	return fields, nil
}
