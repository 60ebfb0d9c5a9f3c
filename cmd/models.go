package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gemgate/gemgate/internal/app"
	"github.com/gemgate/gemgate/internal/models"
)

// NewModelsCmd creates the models command group for inspecting and switching
// the active models.
func NewModelsCmd(a *app.App) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Manage the active models",
	}
	modelsCmd.AddCommand(newModelsShowCmd(a), newModelsSetCmd(a))
	return modelsCmd
}

func newModelsShowCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active model per kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, kind := range []models.Kind{models.Chat, models.Image, models.Video} {
				fmt.Fprintf(out, "%s\t%s\n", kind, a.Models.Current(kind))
			}
			return nil
		},
	}
}

func newModelsSetCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <chat|image|video> <model>",
		Short: "Switch the active model for a kind (admin only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			if !a.Config.IsAdmin(id.UserID) {
				return fmt.Errorf("user %d is not an admin", id.UserID)
			}
			if err := a.SetModel(models.Kind(args[0]), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s model set to %s, conversations restarted\n", args[0], args[1])
			return nil
		},
	}
}
