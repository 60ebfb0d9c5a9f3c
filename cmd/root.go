package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gemgate/gemgate/internal/app"
	"github.com/gemgate/gemgate/internal/chat"
	"github.com/gemgate/gemgate/internal/history"
)

// NewRootCmd creates the root command. Running it with no subcommand
// starts the interactive console.
func NewRootCmd(a *app.App) *cobra.Command {
	root := &cobra.Command{
		Use:   "gemgate",
		Short: "Conversational agent gateway for the Gemini API",
		Long: `gemgate maintains durable multi-turn conversations against the
Gemini API: per-user conversation slots, tool calling (search, YouTube,
image and video generation), credential rotation, and usage tracking.

Running gemgate without a subcommand starts an interactive console.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, a)
		},
	}
	root.PersistentFlags().Int64("user", 1, "acting user id")
	root.PersistentFlags().String("username", "operator", "acting username")
	root.PersistentFlags().String("name", "Operator", "acting display name")
	return root
}

func identityFromFlags(cmd *cobra.Command) chat.Identity {
	userID, _ := cmd.Flags().GetInt64("user")
	username, _ := cmd.Flags().GetString("username")
	displayName, _ := cmd.Flags().GetString("name")
	return chat.Identity{UserID: userID, Username: username, DisplayName: displayName}
}

func runConsole(cmd *cobra.Command, a *app.App) error {
	ctx := cmd.Context()
	id := identityFromFlags(cmd)
	out := cmd.OutOrStdout()

	slot, err := a.Profiles.ActiveSlotName(ctx, id.UserID, id.Username, id.DisplayName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "gemgate %s | slot %q | /exit to quit, /clear to wipe the slot\n", AppVersion, slot)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/clear":
			key, err := a.Profiles.ActiveKey(ctx, id.UserID, id.Username, id.DisplayName)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if err := a.ClearConversation(ctx, key); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "conversation cleared")
			continue
		}

		outcome, err := a.Process(ctx, id, []history.Part{history.TextPart(line)},
			func(status string) { fmt.Fprintf(out, "… %s\n", status) })
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if outcome.Text != "" {
			fmt.Fprintln(out, outcome.Text)
		}
		if outcome.File != nil {
			fmt.Fprintf(out, "[file] %s", outcome.File.Path)
			if outcome.File.Caption != "" {
				fmt.Fprintf(out, " (%s)", outcome.File.Caption)
			}
			fmt.Fprintln(out)
		}
	}
}
