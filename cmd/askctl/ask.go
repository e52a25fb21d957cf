package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"askbridge/internal/answerapi"

	"github.com/spf13/cobra"
)

var (
	askFields  []string
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask the answer backend a question",
	Long: `Ask sends one blocking query to the answer backend and prints the answer.

With positional arguments the text is sent verbatim. With --field flags a
query is synthesized from the fields the same way the relay does for
workflow messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := answerapi.New(answerapi.Config{
			BaseURL: answerURL,
			APIKey:  answerKey,
			Version: answerVersion,
			Caller:  "askctl",
			Timeout: askTimeout,
		})

		fields, err := parseFieldFlags(askFields)
		if err != nil {
			return err
		}
		if len(fields) == 0 && len(args) == 0 {
			return fmt.Errorf("provide a question or at least one --field")
		}

		var answer string
		if len(fields) > 0 {
			answer, err = client.AskFields(cmd.Context(), fields)
		} else {
			answer, err = client.AskText(cmd.Context(), strings.Join(args, " "))
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(map[string]string{"answer": answer})
		}
		fmt.Println(answer)
		return nil
	},
}

func init() {
	askCmd.Flags().StringArrayVar(&askFields, "field", nil,
		"form field as label=value (repeatable)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 60*time.Second,
		"backend request timeout")
}
