package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/report"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
)

const (
	limitFlag  = "limit"
	offsetFlag = "offset"
	offFlag    = "off"

	maxHistoryLimit = 100
)

var (
	errHistoryDisabled = errors.New("history is disabled: set --db or DATABASE_PATH")
	errInvalidLimit    = fmt.Errorf("limit must be between 1 and %d", maxHistoryLimit)
	errInvalidOffset   = errors.New("offset cannot be negative")
)

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and annotate recorded runs",
	}
	cmd.AddCommand(
		a.historyListCmd(),
		a.historyShowCmd(),
		a.historyDeleteCmd(),
		a.historyNameCmd(),
		a.historyStarCmd(),
	)
	return cmd
}

// withStore opens the history database for the duration of fn.
func (a *app) withStore(fn func(storage.Storage) error) error {
	if a.cfg.DatabasePath == "" {
		return errHistoryDisabled
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func (a *app) historyListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if limit < 1 || limit > maxHistoryLimit {
				return errInvalidLimit
			}
			if offset < 0 {
				return errInvalidOffset
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(store storage.Storage) error {
				page, err := store.ListRuns(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				report.PrintRuns(cmd.OutOrStdout(), page)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, limitFlag, 20, "runs per page")
	cmd.Flags().IntVar(&offset, offsetFlag, 0, "runs to skip")
	return cmd
}

func (a *app) historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Storage) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("%w: %s", storage.ErrRunNotFound, args[0])
				}
				report.PrintRun(cmd.OutOrStdout(), run)
				return nil
			})
		},
	}
}

func (a *app) historyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store storage.Storage) error {
				if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) historyNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name <id> [name]",
		Short: "Name a recorded run; omit the name to clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return a.withStore(func(store storage.Storage) error {
				return store.UpdateRunMetadata(cmd.Context(), args[0], &storage.RunMetadataUpdate{CustomName: &name})
			})
		},
	}
}

func (a *app) historyStarCmd() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "star <id>",
		Short: "Mark a recorded run as a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			favorite := !off
			return a.withStore(func(store storage.Storage) error {
				return store.UpdateRunMetadata(cmd.Context(), args[0], &storage.RunMetadataUpdate{IsFavorite: &favorite})
			})
		},
	}
	cmd.Flags().BoolVar(&off, offFlag, false, "remove the favorite mark")
	return cmd
}
