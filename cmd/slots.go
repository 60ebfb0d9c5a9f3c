package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gemgate/gemgate/internal/app"
)

// NewSlotsCmd creates the slots command group for managing conversation
// slots.
func NewSlotsCmd(a *app.App) *cobra.Command {
	slotsCmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage conversation slots",
	}
	slotsCmd.AddCommand(
		newSlotsListCmd(a),
		newSlotsNewCmd(a),
		newSlotsSwitchCmd(a),
		newSlotsDeleteCmd(a),
		newSlotsRenameCmd(a),
	)
	return slotsCmd
}

func newSlotsListCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversation slots with usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			infos, err := a.Profiles.ListSlots(cmd.Context(), id.UserID, id.Username, id.DisplayName)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACTIVE\tMESSAGES\tTOKENS\tCOST")
			for _, info := range infos {
				active := ""
				if info.Active {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\n",
					info.Name, active, info.Messages,
					info.Stats.TotalTokens, info.Stats.TotalCost)
			}
			return w.Flush()
		},
	}
}

func newSlotsNewCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Create a slot and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			if _, err := a.Profiles.CreateSlot(cmd.Context(), id.UserID, id.Username, id.DisplayName, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created slot %q\n", args[0])
			return nil
		},
	}
}

func newSlotsSwitchCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <name>",
		Short: "Make a slot active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.SwitchSlot(cmd.Context(), identityFromFlags(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "switched to %q\n", name)
			return nil
		},
	}
}

func newSlotsDeleteCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a slot and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.DeleteSlot(cmd.Context(), identityFromFlags(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", res.Deleted)
			if res.NewActive != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "now active: %q\n", res.NewActive)
			}
			return nil
		},
	}
}

func newSlotsRenameCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := identityFromFlags(cmd)
			if err := a.Profiles.RenameSlot(cmd.Context(), id.UserID, id.Username, id.DisplayName, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %q to %q\n", args[0], args[1])
			return nil
		},
	}
}
