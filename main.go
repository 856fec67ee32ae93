package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/earthrise-media/forestloss/boundary"
	"github.com/earthrise-media/forestloss/config"
	"github.com/earthrise-media/forestloss/database"
	"github.com/earthrise-media/forestloss/handler"
	"github.com/earthrise-media/forestloss/metrics"
	"github.com/earthrise-media/forestloss/pipeline"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/kataras/iris/v12"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {

	if err := rootCmd().Execute(); err != nil {
		zap.S().Errorf("forestloss: %s", err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {

	root := &cobra.Command{
		Use:           "forestloss",
		Short:         "Per-region forest loss statistics from yearly loss-year rasters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("tile-dir", "", "directory holding the loss-year tiles")
	flags.String("clip-dir", "", "directory for per-region clipped rasters")
	flags.Int("workers", 0, "regions processed concurrently")
	flags.String("clip-policy", "", "clip completeness check: batch or region")
	flags.String("log-level", "", "log level as defined by zap")
	//a set flag beats the environment
	for key, name := range map[string]string{
		"TILE_DIR":    "tile-dir",
		"CLIP_DIR":    "clip-dir",
		"WORKERS":     "workers",
		"CLIP_POLICY": "clip-policy",
		"LOG_LEVEL":   "log-level",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		stageCmd("run", "Build the mosaic, clip every region and aggregate loss", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.Run(ctx)
		}),
		stageCmd("mosaic", "Merge the tiles into one mosaic", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			m, err := p.Mosaic(ctx)
			if err != nil {
				return nil, err
			}
			return &pipeline.Report{MosaicPath: m.Path, MosaicReused: m.Reused}, nil
		}),
		stageCmd("clip", "Clip the mosaic to every region boundary", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.Clip(ctx)
		}),
		stageCmd("aggregate", "Aggregate clipped rasters into yearly loss records", func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Report, error) {
			return p.Aggregate(ctx)
		}),
		runsCmd(),
		serveCmd(),
	)
	return root
}

//stageCmd wraps one pipeline entry point: preflight, connect, run, print the report
func stageCmd(use, short string, stage func(context.Context, *pipeline.Pipeline) (*pipeline.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings, db, err := preflight(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := stage(ctx, newPipeline(settings, db))
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), report.String())
			}
			return err
		},
	}
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent entries of the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			_, db, err := preflight(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := database.NewRunController(db).FindRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STAGE\tSTATUS\tSTARTED\tCOMPLETED\tFINGERPRINT")
			for _, r := range runs {
				completed := "-"
				if r.CompletedAt != nil {
					completed = r.CompletedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.12s\n", r.Stage, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Fingerprint)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "number of runs to list")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the loss statistics as a read-only JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, db, err := preflight(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			metrics.RegisterRuntime()
			regions := database.NewRegionController(db, boundaryTable(settings))
			app := forestlossApi(regions, database.NewLossController(db))
			return app.Listen(":" + settings.Port)
		},
	}
	cmd.Flags().String("port", "", "web service port")
	_ = viper.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func forestlossApi(regions handler.RegionFinder, losses handler.LossFinder) *iris.Application {

	app := iris.New()

	//healthcheck endpoints, /healthz also checks the statistics store
	app.Get("/health", handler.Ok)
	app.Get("/healthz", handler.Ready(losses))
	app.Get("/metrics", iris.FromStd(metrics.Handler()))

	rh := handler.RegionHandler{Regions: regions, Losses: losses}
	app.Get("/regions", rh.GetRegions)

	lh := handler.LossHandler{Losses: losses}
	lossEndpoint := app.Party("/loss")
	{
		lossEndpoint.Get("/", lh.GetLosses)
		lossEndpoint.Get("/national", lh.GetNational)
		lossEndpoint.Get("/top", lh.GetTop)
	}
	return app
}

//preflight resolves config, connects and prepares the schema. The pool is
//owned by the caller.
func preflight(ctx context.Context) (*config.Settings, *pgxpool.Pool, error) {

	settings, err := config.Preflight()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Connect(ctx, settings.ConnString(), zap.L())
	if err != nil {
		return nil, nil, err
	}
	if settings.DBInit {
		if err := database.SetupSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return settings, db, nil
}

func boundaryTable(s *config.Settings) database.BoundaryTable {
	return database.BoundaryTable{
		Table:       s.BoundaryTable,
		NameColumn:  s.BoundaryNameColumn,
		GeomColumn:  s.BoundaryGeomColumn,
		DefaultSRID: s.BoundaryDefaultSRID,
	}
}

func newPipeline(s *config.Settings, db *pgxpool.Pool) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Settings:   s,
		Boundaries: &boundary.Loader{Source: database.NewRegionController(db, boundaryTable(s))},
		Losses:     database.NewLossController(db),
		Runs:       database.NewRunController(db),
	}
}
