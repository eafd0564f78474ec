package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/bissquit/shelfsync/internal/replication"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drive the replication queue",
	}

	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	cmd.AddCommand(newSyncOnceCommand(rootOpts))
	cmd.AddCommand(newSyncDeadLettersCommand(rootOpts))
	cmd.AddCommand(newSyncResubmitCommand(rootOpts))

	return cmd
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued and failed entry counts and backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := rootOpts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			status, err := application.Dispatcher().Status(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read sync status", err)
			}

			return rootOpts.formatter(cmd).Success(status, func(w io.Writer) {
				printStatus(w, status)
			})
		},
	}
}

func newSyncOnceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Probe the backend and drain the queue once",
		Long: `Probe the backend and, if it is reachable, replay every pending entry once.

Exit codes:
  0 - The queue is empty afterwards
  1 - Entries remain pending (backend unreachable or retryable failures)
  2 - Command error`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := rootOpts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			dispatcher := application.Dispatcher()
			dispatcher.Tick(cmd.Context())

			status, err := dispatcher.Status(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read sync status", err)
			}

			if err := rootOpts.formatter(cmd).Success(status, func(w io.Writer) {
				printStatus(w, status)
			}); err != nil {
				return err
			}

			if status.QueuedCount > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d entries still pending", status.QueuedCount))
			}
			return nil
		},
	}
}

func newSyncDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List entries that failed permanently",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be positive")
			}

			application, err := rootOpts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			letters, err := application.Dispatcher().DeadLetters(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list dead letters", err)
			}

			return rootOpts.formatter(cmd).Success(letters, func(w io.Writer) {
				printDeadLetters(w, letters)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of dead letters to list")

	return cmd
}

func newSyncResubmitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <dead-letter-id>",
		Short: "Append a dead letter to the end of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid dead letter id %q", args[0]))
			}

			application, err := rootOpts.openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			entry, err := application.Dispatcher().Resubmit(cmd.Context(), id)
			if err != nil {
				if errors.Is(err, replication.ErrDeadLetterNotFound) || errors.Is(err, replication.ErrAlreadyResubmitted) {
					return WrapExitError(ExitFailure, "cannot resubmit", err)
				}
				return WrapExitError(ExitCommandError, "failed to resubmit dead letter", err)
			}

			return rootOpts.formatter(cmd).Success(entry, func(w io.Writer) {
				fmt.Fprintf(w, "Dead letter %d queued as entry %d (%s %s).\n", id, entry.ID, entry.Method, entry.Endpoint)
			})
		},
	}
}

func printStatus(w io.Writer, status *replication.Status) {
	fmt.Fprintf(w, "state:   %s\n", status.State)
	fmt.Fprintf(w, "online:  %t\n", status.IsOnline)
	fmt.Fprintf(w, "queued:  %d\n", status.QueuedCount)
	fmt.Fprintf(w, "failed:  %d\n", status.FailedCount)
}

func printDeadLetters(w io.Writer, letters []replication.DeadLetter) {
	if len(letters) == 0 {
		fmt.Fprintln(w, "No dead letters.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tENDPOINT\tREASON\tATTEMPTS\tERROR")
	for _, d := range letters {
		fmt.Fprintf(tw, "%d\t%s\t%s %s\t%s\t%d\t%s\n",
			d.ID, d.OperationType, d.Method, d.Endpoint, d.Reason, d.Attempts, d.Error)
	}
	_ = tw.Flush()
}
