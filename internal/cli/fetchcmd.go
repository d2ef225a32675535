package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/scheduler"
	"github.com/boil-wsb/trending-service/internal/store"
)

var fetchSources []string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one fetch cycle and exit",
	RunE:  fetchAction,
}

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchSources, "source", nil, "source id to fetch (repeatable; default all)")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, _ []string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	st, err := store.Open(cfg.Storage.Path, reg.IDs(), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sched, err := scheduler.New(reg, st, cfg.Schedule, cfg.Fetch.Timeout.Duration, log)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	summary := sched.RunOnce(cmd.Context(), fetchSources)

	fmt.Printf("cycle %s: %d succeeded, %d failed\n", summary.Cycle, summary.Succeeded, summary.Failed)
	for _, f := range summary.Failures {
		fmt.Printf("  %s: %s (%s)\n", f.Source, f.Error, f.Kind)
	}
	if summary.Failed > 0 && summary.Succeeded == 0 {
		return fmt.Errorf("all sources failed")
	}
	return nil
}
