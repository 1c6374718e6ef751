package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samsaffron/relaychat/internal/client"
	"github.com/samsaffron/relaychat/internal/relay"
	"github.com/samsaffron/relaychat/internal/signal"
	"github.com/spf13/cobra"
)

var (
	chatServer    string
	chatToken     string
	chatModel     string
	chatReasoning bool
	chatID        string
	chatNew       bool
	chatFiles     []string
	chatRender    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt to a running server and stream the reply",
	Long: `Send one prompt to a relaychat server and print the reply as it streams,
including tool calls and their results.

With --chat the prompt continues a stored chat: its history is sent along
and both the prompt and the reply are saved. --new creates a chat first.

Examples:
  relaychat chat "what time is it?"
  relaychat chat --model lorem-fast "hello"
  relaychat chat --new "pick a random number between 1 and 10"
  relaychat chat --chat 3f2c... "and another one"
  relaychat chat -f notes.txt "summarize this"
  relaychat chat --render "show me a table of primes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatServer, "server", "http://127.0.0.1:8080", "Server base URL")
	chatCmd.Flags().StringVar(&chatToken, "token", os.Getenv("RELAYCHAT_TOKEN"), "Bearer token (default $RELAYCHAT_TOKEN)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "gpt-4o-mini-2024-07-18", "Model ID")
	chatCmd.Flags().BoolVar(&chatReasoning, "reasoning", false, "Treat the model as a reasoning model")
	chatCmd.Flags().StringVar(&chatID, "chat", "", "Continue and persist to this chat ID")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Create a new stored chat for this prompt")
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "Attach a text file (repeatable)")
	chatCmd.Flags().BoolVar(&chatRender, "render", false, "Render the finished reply as markdown instead of streaming raw text (terminals only)")
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("prompt is empty")
	}
	if chatNew && chatID != "" {
		return fmt.Errorf("--new and --chat are mutually exclusive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	c := client.NewClient(chatServer, chatToken, nil)

	var turns []relay.Turn
	switch {
	case chatNew:
		chat, err := c.CreateChat(ctx, prompt)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		chatID = chat.ID
		fmt.Fprintf(cmd.ErrOrStderr(), "chat %s: %s\n", chat.ID, chat.Title)
	case chatID != "":
		history, err := c.Messages(ctx, chatID)
		if err != nil {
			return fmt.Errorf("load chat: %w", err)
		}
		for _, m := range history {
			turns = append(turns, relay.Turn{Role: m.Role, Content: m.Content})
		}
	}
	turns = append(turns, relay.Turn{Role: "user", Content: prompt})

	var uploads []client.Upload
	for _, path := range chatFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		uploads = append(uploads, client.Upload{Name: filepath.Base(path), Content: data})
	}

	out := cmd.OutOrStdout()
	render := chatRender && stdoutIsTerminal()
	printed := 0
	a, err := c.Send(ctx, client.SendRequest{
		ChatID:    chatID,
		Model:     chatModel,
		Reasoning: chatReasoning,
		Turns:     turns,
		Files:     uploads,
		OnUpdate: func(ev relay.Event, a *client.Assistant) {
			if render {
				if ev.Kind == relay.KindToolCall {
					fmt.Fprintf(cmd.ErrOrStderr(), "running %s...\n", ev.Tool)
				}
				return
			}
			if len(a.Content) > printed {
				fmt.Fprint(out, a.Content[printed:])
				printed = len(a.Content)
			}
		},
	})
	if a != nil {
		if render {
			rendered, rerr := renderMarkdown(a.Content, terminalWidth())
			if rerr != nil {
				rendered = a.Content
			}
			fmt.Fprint(out, rendered)
		} else {
			fmt.Fprintln(out)
		}
		if a.Err != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", a.Err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "tokens: %d in, %d out; cost $%.6f\n",
			a.TotalInputTokens, a.TotalOutputTokens, a.TotalCost)
	}
	if errors.Is(err, client.ErrNoDone) {
		return fmt.Errorf("stream ended before completion")
	}
	return err
}
