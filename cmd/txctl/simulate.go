package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/txkit/tx"
	"github.com/joshuapare/txkit/tx/memres"
)

var (
	simResources    int
	simFailPrepare  int
	simFailCommit   int
	simRollback     bool
	simRollbackOnly bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simResources, "resources", 2, "Number of resource managers to enlist")
	cmd.Flags().IntVar(&simFailPrepare, "fail-prepare", 0,
		"Inject a prepare failure on the given resource (1-based, 0 disables)")
	cmd.Flags().IntVar(&simFailCommit, "fail-commit", 0,
		"Inject a commit failure on the given resource (1-based, 0 disables)")
	cmd.Flags().BoolVar(&simRollback, "rollback", false, "Roll the transaction back instead of committing")
	cmd.Flags().BoolVar(&simRollbackOnly, "mark-rollback-only", false,
		"Mark the transaction rollback-only before committing")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a coordinated transaction across in-memory resources",
		Long: `The simulate command enlists a configurable number of in-memory key/value
resource managers in one transaction, stages a write on each, and drives the
transaction to completion. Faults can be injected at the prepare or commit
step of any resource to observe the coordinator's heuristic outcome handling.

Example:
  txctl simulate --resources 3
  txctl simulate --resources 3 --fail-prepare 2
  txctl simulate --resources 2 --fail-commit 1 --verbose
  txctl simulate --rollback`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd)
		},
	}
	return cmd
}

func runSimulate(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	c := tx.NewCoordinatorWithLogger(logger)

	stores := make([]*memres.Store, 0, simResources)
	for i := 1; i <= simResources; i++ {
		store := memres.NewStore(fmt.Sprintf("store-%d", i))
		stores = append(stores, store)

		r := store.Resource()
		if i == simFailPrepare {
			r.FailPrepare = &tx.XAError{
				Code: tx.CodeRBDeadlock,
				Err:  errors.New("injected prepare failure"),
			}
		}
		if i == simFailCommit {
			r.FailCommit = &tx.XAError{
				Code: tx.CodeHeurHaz,
				Err:  errors.New("injected commit failure"),
			}
		}

		enlisted, err := c.Enlist(ctx, r)
		if err != nil {
			return fmt.Errorf("enlist %s: %w", store.Name(), err)
		}
		if !enlisted {
			return fmt.Errorf("enlist %s: resource refused", store.Name())
		}
		if err := r.Set("key", fmt.Sprintf("value-%d", i)); err != nil {
			return fmt.Errorf("stage write on %s: %w", store.Name(), err)
		}
	}

	fmt.Fprintf(out, "%s\n", c)
	if simResources == 1 {
		fmt.Fprintln(out, "protocol: one-phase commit")
	} else {
		fmt.Fprintln(out, "protocol: two-phase commit")
	}

	if simRollbackOnly {
		c.MarkRollbackOnly()
	}

	var completionErr error
	if simRollback {
		completionErr = c.Rollback(ctx)
	} else {
		completionErr = c.Commit(ctx)
	}

	fmt.Fprintf(out, "outcome: %s\n", c.Status())
	for _, store := range stores {
		fmt.Fprintf(out, "  %s: %d committed key(s)\n", store.Name(), len(store.Snapshot()))
	}

	var heuristicRollback *tx.HeuristicRollbackError
	var heuristicMixed *tx.HeuristicMixedError
	switch {
	case completionErr == nil:
		return nil
	case errors.Is(completionErr, tx.ErrRollback):
		// The expected result of a rollback-only transaction.
		fmt.Fprintln(out, "transaction rolled back cleanly")
		return nil
	case errors.As(completionErr, &heuristicRollback):
		fmt.Fprintf(out, "heuristic rollback, %d branch failure(s):\n", len(heuristicRollback.Failures))
		for _, failure := range heuristicRollback.Failures {
			fmt.Fprintf(out, "  [%s] %v\n", tx.Classify(failure), failure)
		}
		return completionErr
	case errors.As(completionErr, &heuristicMixed):
		fmt.Fprintf(out, "heuristic mixed outcome, %d branch failure(s):\n", len(heuristicMixed.Failures))
		for _, failure := range heuristicMixed.Failures {
			fmt.Fprintf(out, "  [%s] %v\n", tx.Classify(failure), failure)
		}
		return completionErr
	default:
		return completionErr
	}
}
