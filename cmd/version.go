package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gemgate/gemgate/internal/app"
	"github.com/gemgate/gemgate/internal/models"
)

// NewVersionCmd creates the version command (factory pattern)
func NewVersionCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.OutOrStdout(), a)
		},
	}
}

func runVersion(out io.Writer, a *app.App) error {
	fmt.Fprintf(out, "Gemgate %s\n", AppVersion)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Chat model: %s\n", a.Models.Current(models.Chat))
	fmt.Fprintf(out, "  Image model: %s\n", a.Models.Current(models.Image))
	fmt.Fprintf(out, "  Video model: %s\n", a.Models.Current(models.Video))
	fmt.Fprintf(out, "  Temperature: %.2f\n", a.Config.Temperature)
	fmt.Fprintf(out, "  Storage: %s (%s)\n", a.Config.StorageBackend, a.Config.DataDir)
	fmt.Fprintf(out, "  Video generation: %t\n", a.Config.VideoGeneration)

	// Report how many credentials are loaded, never their values.
	if n := a.Rotator.Len(); n > 0 {
		fmt.Fprintf(out, "  API keys: %d configured\n", n)
	} else {
		fmt.Fprintln(out, "  API keys: none")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Hint: set GEMGATE_API_KEYS or api_keys in the config file")
	}

	return nil
}
