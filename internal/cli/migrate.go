package cli

import (
	"fmt"
	"io"

	"github.com/bissquit/shelfsync/internal/app"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply the embedded schema migrations of the configured driver.

Examples:
  shelfsync migrate --config shelfsync.yaml
  SHELFSYNC_DATABASE__DRIVER=postgres SHELFSYNC_DATABASE__URL=postgres://... shelfsync migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}

			if err := app.Migrate(cfg.Database); err != nil {
				return WrapExitError(ExitCommandError, "failed to migrate database", err)
			}

			result := map[string]string{"driver": cfg.Database.Driver}
			return rootOpts.formatter(cmd).Success(result, func(w io.Writer) {
				fmt.Fprintf(w, "Migrations applied (%s).\n", cfg.Database.Driver)
			})
		},
	}
}
