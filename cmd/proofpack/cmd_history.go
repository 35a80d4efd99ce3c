package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/history"
	"github.com/davidahmann/proofpack/core/projectconfig"
)

const (
	defaultHistoryPath   = ".proofpack/history.ndjson"
	defaultHistoryDSNEnv = "PROOFPACK_HISTORY_DSN"
)

type historyOutput struct {
	Entries []history.Entry `json:"entries"`
}

func newHistoryCmd(application *app) *cobra.Command {
	var historyPath string
	var runID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded certification verdicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return application.failure(coreerrors.InvalidParameter("limit", limit, "must not be negative"))
			}
			store, closeStore, err := application.openHistory(cmd.Context(), historyPath, true)
			if err != nil {
				return application.failure(err)
			}
			defer closeStore()
			entries, err := store.List(cmd.Context(), history.Query{RunID: strings.TrimSpace(runID), Limit: limit})
			if err != nil {
				return application.failure(err)
			}
			lines := make([]string, 0, len(entries)+1)
			if len(entries) == 0 {
				lines = append(lines, "history: no entries")
			}
			for _, entry := range entries {
				line := fmt.Sprintf("%s %s %s warnings=%d", entry.RecordedAt.Format("2006-01-02T15:04:05Z"), entry.RunID, entry.Verdict, entry.Warnings)
				if len(entry.FailedChecks) > 0 {
					line += " failed=" + strings.Join(entry.FailedChecks, ",")
				}
				lines = append(lines, line)
			}
			return application.report(historyOutput{Entries: entries}, lines, exitOK)
		},
	}
	cmd.Flags().StringVar(&historyPath, "history", "", "history NDJSON path (overrides config)")
	cmd.Flags().StringVar(&runID, "run-id", "", "only list entries for this run")
	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the most recent N entries")
	return cmd
}

// openHistory resolves the history store from the flag, then config. When
// required is false and nothing is configured the returned store is nil.
func (a *app) openHistory(ctx context.Context, pathFlag string, required bool) (history.Store, func(), error) {
	noop := func() {}
	if path := strings.TrimSpace(pathFlag); path != "" {
		return history.NewFileStore(path), noop, nil
	}
	configuration, err := a.config()
	if err != nil {
		return nil, noop, err
	}
	switch configuration.History.Backend {
	case projectconfig.HistoryBackendPostgres:
		envName := firstNonEmpty(configuration.History.DSNEnv, defaultHistoryDSNEnv)
		dsn := strings.TrimSpace(os.Getenv(envName))
		if dsn == "" {
			return nil, noop, coreerrors.Validation("history.dsn_env", "environment variable "+envName+" is not set")
		}
		store, err := history.ConnectPostgres(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		a.log().Debugf("history backend=postgres env=%s", envName)
		return store, store.Close, nil
	case projectconfig.HistoryBackendFile:
		path := firstNonEmpty(configuration.History.Path, defaultHistoryPath)
		a.log().Debugf("history backend=file path=%s", path)
		return history.NewFileStore(path), noop, nil
	}
	if configuration.History.Path != "" {
		return history.NewFileStore(configuration.History.Path), noop, nil
	}
	if required {
		return history.NewFileStore(defaultHistoryPath), noop, nil
	}
	return nil, noop, nil
}
