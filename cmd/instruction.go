package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gemgate/gemgate/internal/app"
)

// NewInstructionCmd creates the instruction command group for viewing and
// editing system instructions.
func NewInstructionCmd(a *app.App) *cobra.Command {
	instructionCmd := &cobra.Command{
		Use:     "instruction",
		Aliases: []string{"inst"},
		Short:   "Manage system instructions",
	}
	instructionCmd.AddCommand(
		newInstructionShowCmd(a),
		newInstructionSetCmd(a),
		newInstructionResetCmd(a),
		newInstructionSetGlobalCmd(a),
	)
	return instructionCmd
}

func newInstructionShowCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective instruction for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			info := a.Instructions.Info(cmd.Context(), id.UserID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s instruction%s:\n%s\n",
				info.Source, titleSuffix(info.Title), info.Text)
			return nil
		},
	}
}

func newInstructionSetCmd(a *app.App) *cobra.Command {
	var title string
	setCmd := &cobra.Command{
		Use:   "set <text>...",
		Short: "Set the instruction for the current user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			if err := a.SetUserInstruction(cmd.Context(), id, strings.Join(args, " "), title); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "instruction updated, conversation restarted")
			return nil
		},
	}
	setCmd.Flags().StringVar(&title, "title", "", "optional label for the instruction")
	return setCmd
}

func newInstructionResetCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove the current user's instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ResetUserInstruction(cmd.Context(), identityFromFlags(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "instruction reset, conversation restarted")
			return nil
		},
	}
}

func newInstructionSetGlobalCmd(a *app.App) *cobra.Command {
	var title string
	setGlobalCmd := &cobra.Command{
		Use:   "set-global <text>...",
		Short: "Set the fallback instruction for all users (admin only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			if !a.Config.IsAdmin(id.UserID) {
				return fmt.Errorf("user %d is not an admin", id.UserID)
			}
			if err := a.SetGlobalInstruction(cmd.Context(), strings.Join(args, " "), title); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "global instruction updated, all conversations restarted")
			return nil
		},
	}
	setGlobalCmd.Flags().StringVar(&title, "title", "", "optional label for the instruction")
	return setGlobalCmd
}

func titleSuffix(title string) string {
	if title == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", title)
}
