package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/config"
	"github.com/damsac/health-assistant/internal/store"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage stored conversations",
	Long: `List, show, and delete conversations in the local database.

Examples:
  health-assistant conversations                  # List conversations
  health-assistant conversations show <id>
  health-assistant conversations show <id> --json
  health-assistant conversations delete <id>`,
	RunE: runConversationsList, // Default to list
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

// Flags
var (
	conversationsUser string
	conversationsDB   string
	conversationsJSON bool
)

func init() {
	conversationsCmd.PersistentFlags().StringVar(&conversationsUser, "user", "local", "User whose conversations to manage")
	conversationsCmd.PersistentFlags().StringVar(&conversationsDB, "db", "", "Database file path (overrides config)")

	conversationsShowCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output as JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)

	rootCmd.AddCommand(conversationsCmd)
}

func openConversationStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if conversationsDB != "" {
		cfg.Database.Path = conversationsDB
	}
	return store.Open(cfg.Database)
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	st, err := openConversationStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	conversations, err := st.ListByOwner(ctx, conversationsUser)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	if len(conversations) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("%-38s %-40s %s\n", "ID", "TITLE", "UPDATED")
	fmt.Println(strings.Repeat("-", 92))
	for _, c := range conversations {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Printf("%-38s %-40s %s\n", c.ID, title, formatRelativeTime(c.UpdatedAt))
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	st, err := openConversationStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	conv, err := st.GetWithMessages(ctx, args[0], conversationsUser)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation '%s' not found", args[0])
	}

	if conversationsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	}

	fmt.Printf("Conversation: %s\n", conv.ID)
	if conv.Title != "" {
		fmt.Printf("Title: %s\n", conv.Title)
	}
	fmt.Printf("Created: %s\n", conv.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", conv.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Messages: %d\n\n", len(conv.Messages))

	for _, msg := range conv.Messages {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Printf("> %s\n\n", msg.Text())
		case chat.RoleAssistant:
			for _, part := range msg.Parts {
				switch part.Type {
				case chat.PartText:
					fmt.Printf("%s\n\n", part.Text)
				case chat.PartToolInvocation:
					printInvocation(part.Tool)
				}
			}
		}
	}
	return nil
}

func printInvocation(inv *chat.ToolInvocation) {
	if inv == nil {
		return
	}
	fmt.Printf("[tool: %s (%s)]\n", inv.ToolName, inv.State)
	if len(inv.Input) > 0 {
		fmt.Printf("  input:  %s\n", compactJSON(inv.Input))
	}
	switch inv.State {
	case chat.StateOutputAvailable:
		fmt.Printf("  output: %s\n", compactJSON(inv.Result))
	case chat.StateOutputError:
		fmt.Printf("  error:  %s\n", inv.ErrorText)
	}
	fmt.Println()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	s := buf.String()
	if len(s) > 200 {
		s = s[:197] + "..."
	}
	return s
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	st, err := openConversationStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	deleted, err := st.Delete(ctx, args[0], conversationsUser)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if !deleted {
		return fmt.Errorf("conversation '%s' not found", args[0])
	}

	fmt.Printf("Deleted conversation: %s\n", args[0])
	return nil
}

// formatRelativeTime returns a human-readable relative time string
func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
