package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "health-assistant",
	Short: "Conversational health assistant with tool approval",
	Long: `health-assistant is a conversational AI health companion. The model can
read and update the user's health profile, goals, and daily log through
tools; mutating tool calls pause for explicit user approval before they
execute.

Examples:
  health-assistant serve                  # run the HTTP API server
  health-assistant chat                   # interactive chat client
  health-assistant conversations          # list stored conversations
  health-assistant conversations show <id>`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
