package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/report"
	"github.com/boil-wsb/trending-service/internal/store"
)

var reportOut string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the HTML report from the current snapshots",
	RunE:  reportAction,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(reportCmd)
}

func reportAction(_ *cobra.Command, _ []string) error {
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

	rend, err := report.NewRenderer(reg)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	out := os.Stdout
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	return rend.Render(out, st.GetAll(), time.Now())
}
