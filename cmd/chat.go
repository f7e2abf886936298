package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/damsac/health-assistant/internal/chat"
	"github.com/damsac/health-assistant/internal/client"
	"github.com/damsac/health-assistant/internal/pricing"
)

var (
	chatServer       string
	chatUser         string
	chatToken        string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	Long: `Interactive chat session against a running health-assistant server.

Tool calls that change your data pause for approval; answer y or n when
prompted. Commands inside the session:
  /new      start a new conversation
  /cost     show session cost
  /quit     exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatServer, "server", "http://127.0.0.1:8080", "Server base URL")
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "User identity sent to the server")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "Bearer token for API auth")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "Resume an existing conversation by id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := client.NewHTTPTransport(chatServer, chatUser, chatToken)
	ctrl := client.NewController(transport)
	ctrl.OnConversationCreated(func(id string) {
		fmt.Fprintf(os.Stderr, "[conversation %s]\n", id)
	})
	ctrl.OnEvent(printStreamEvent)

	if chatConversation != "" {
		if err := ctrl.SwitchTo(ctx, chatConversation); err != nil {
			return fmt.Errorf("resume conversation: %w", err)
		}
		printTranscript(ctrl.Messages())
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if err := resolveApprovals(ctx, ctrl, scanner); err != nil {
			return err
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/new":
			if err := ctrl.NewConversation(); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else {
				fmt.Println("[new conversation]")
			}
			continue
		case "/cost":
			total := ctrl.Costs().SessionTotal()
			fmt.Printf("session cost: %s (%d in / %d out tokens)\n",
				pricing.FormatCost(total.TotalCost),
				total.TokenUsage.InputTokens, total.TokenUsage.OutputTokens)
			continue
		}

		if err := ctrl.Send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		fmt.Println()
	}
}

// resolveApprovals prompts for every pending tool approval. Answering the
// last one resumes the turn, which may surface further approvals; loop
// until none remain.
func resolveApprovals(ctx context.Context, ctrl *client.Controller, scanner *bufio.Scanner) error {
	for {
		pending := ctrl.PendingApprovals()
		if len(pending) == 0 {
			return nil
		}
		for _, id := range pending {
			name, input := describeInvocation(ctrl.Messages(), id)
			fmt.Printf("\nTool %s wants to run", name)
			if input != "" {
				fmt.Printf(" with input:\n  %s", input)
			}
			fmt.Print("\nApprove? [y/N] ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			var err error
			if answer == "y" || answer == "yes" {
				err = ctrl.Approve(ctx, id)
			} else {
				err = ctrl.Deny(ctx, id)
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

// describeInvocation finds a tool invocation by id in the transcript.
func describeInvocation(messages []chat.Message, toolCallID string) (name, input string) {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, part := range messages[i].Parts {
			if part.Type == chat.PartToolInvocation && part.Tool != nil && part.Tool.ToolCallID == toolCallID {
				return part.Tool.ToolName, compactJSON(part.Tool.Input)
			}
		}
	}
	return toolCallID, ""
}

func printStreamEvent(event chat.StreamEvent) {
	switch event.Type {
	case chat.EventTextDelta:
		fmt.Print(event.Delta)
	case chat.EventToolInput:
		if event.State == chat.StateExecuting {
			fmt.Printf("\n[running %s]\n", event.ToolName)
		}
	case chat.EventToolError:
		if event.State == chat.StateDenied {
			fmt.Printf("\n[denied %s]\n", event.ToolName)
		} else {
			fmt.Printf("\n[%s failed: %s]\n", event.ToolName, event.ErrorText)
		}
	case chat.EventError:
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", event.ErrorText)
	}
}

func printTranscript(messages []chat.Message) {
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Printf("> %s\n", msg.Text())
		case chat.RoleAssistant:
			if text := msg.Text(); text != "" {
				fmt.Printf("%s\n", text)
			}
		}
	}
}
