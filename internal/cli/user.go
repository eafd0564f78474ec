package cli

import (
	"fmt"
	"io"

	"github.com/bissquit/shelfsync/internal/domain"
	"github.com/bissquit/shelfsync/internal/identity"
	"github.com/spf13/cobra"
)

// minPasswordLength matches the validation of the HTTP API.
const minPasswordLength = 8

// UserAddOptions holds flags for the user add command.
type UserAddOptions struct {
	*RootOptions
	Email    string
	Password string
	FullName string
	Role     string
}

// NewUserCommand creates the user command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}

	cmd.AddCommand(newUserAddCommand(rootOpts))

	return cmd
}

func newUserAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UserAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local account",
		Long: `Create a local account. The first administrator has to be created this way.

Examples:
  shelfsync user add --email admin@example.com --password 'change-me-now' --role admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.Password) < minPasswordLength {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("--password must be at least %d characters", minPasswordLength))
			}

			application, err := opts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			user, err := application.IdentityService().CreateUser(cmd.Context(), identity.CreateUserInput{
				Email:    opts.Email,
				Password: opts.Password,
				FullName: opts.FullName,
				Role:     domain.Role(opts.Role),
			})
			if err != nil {
				return WrapExitError(ExitFailure, "failed to create user", err)
			}

			return opts.formatter(cmd).Success(user, func(w io.Writer) {
				fmt.Fprintf(w, "Created %s %s (%s).\n", user.Role, user.Email, user.ID)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (required)")
	cmd.Flags().StringVar(&opts.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&opts.Role, "role", string(domain.RoleCashier), "role (cashier|manager|admin)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
