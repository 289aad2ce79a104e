package main

import (
	"errors"
	"fmt"
	"time"

	"RSIndex/internal/di"
	"RSIndex/internal/domain/models"
	"RSIndex/internal/usecase"
	"RSIndex/pkg/config"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/server"
	"RSIndex/pkg/util"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "app",
		Short:         "Relative strength rankings and equal-weight index engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	load := func() (*server.App, error) {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return nil, fmt.Errorf("config load failed: %w", err)
		}
		app, err := di.InitializeApp(cfg)
		if err != nil {
			return nil, fmt.Errorf("app initialization failed: %w", err)
		}
		app.Logger().Info("app initialised",
			logger.String("env", cfg.Environment),
			logger.String("backend", cfg.Store.Backend),
		)
		return app, nil
	}

	root.AddCommand(serveCmd(load), rankCmd(load), constituentsCmd(load), indexCmd(load))
	return root
}

func serveCmd(load func() (*server.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and price-update consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context())
		},
	}
}

func rankCmd(load func() (*server.App, error)) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Compute momentum rankings for a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := util.ParseDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			var t time.Time
			if to != "" {
				if t, err = util.ParseDate(to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Momentum().Run(cmd.Context(), f, t)
			if err != nil {
				return err
			}
			app.Logger().Info("rankings written", logger.Int("rows", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date to rank (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date to rank, default latest trading date")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func constituentsCmd(load func() (*server.App, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "constituents",
		Short: "Rebuild index constituents for every rebalance date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Constituents().Run(cmd.Context())
			if err != nil {
				return err
			}
			app.Logger().Info("constituents built",
				logger.Int("rebalance_dates", report.RebalanceDates),
				logger.Int("skipped", report.Skipped),
				logger.Int("rows", report.Rows),
				logger.Int("groups", report.Groups),
				logger.Strings("empty_groups", report.EmptyGroups),
			)
			return nil
		},
	}
}

func indexCmd(load func() (*server.App, error)) *cobra.Command {
	var indexType, indexCode string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Replay equal-weight indices from the base date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if indexCode != "" && indexType == "" {
				return errors.New("--code needs --type")
			}
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			b := app.Indices()
			var results []usecase.IndexResult
			switch {
			case indexCode != "":
				res, err := b.Build(ctx, models.IndexKey{IndexType: indexType, IndexCode: indexCode})
				if err != nil {
					return err
				}
				results = []usecase.IndexResult{*res}
			case indexType != "":
				if results, err = b.BuildAll(ctx, indexType); err != nil {
					return err
				}
			default:
				if results, err = b.BuildConfigured(ctx); err != nil {
					return err
				}
			}
			for _, r := range results {
				app.Logger().Info("index built",
					logger.String("index", r.Key.String()),
					logger.Int("points", r.Points),
					logger.Float64("last_value", r.LastValue),
					logger.String("skip_reason", r.SkipReason),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&indexType, "type", "", "index type, default every configured type")
	cmd.Flags().StringVar(&indexCode, "code", "", "single index code")
	return cmd
}
