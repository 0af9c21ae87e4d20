package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"flyassay/internal/analysis"
	"flyassay/internal/config"
	"flyassay/internal/logger"
	"flyassay/internal/repository/sqlite"
	"flyassay/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "analyze",
		Short:        "Offline binning and plotting of fly activity results",
		SilenceUsage: true,
	}
	root.AddCommand(newSummaryCommand(), newFlygramCommand(), newImportCommand())
	return root
}

func newSummaryCommand() *cobra.Command {
	var (
		binSize int
		scale   []float64
		out     string
	)
	cmd := &cobra.Command{
		Use:   "summary <condition-dir>",
		Short: "Plot binned activity of every run in a condition folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := analysis.SummarizeCondition(args[0], binSize, scale)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(args[0], cond.Name+" summary.png")
			}
			if err := analysis.PlotCondition(cond, out, 12*vg.Inch, 9*vg.Inch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📈 %s\n", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&binSize, "bin", 5, "bin size in seconds")
	cmd.Flags().Float64SliceVar(&scale, "scale", nil, "per-file count divisors in roi1, roi3, roi2, roi4 order")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output image (png, pdf, svg)")
	return cmd
}

func newFlygramCommand() *cobra.Command {
	var (
		opts   analysis.FlygramOptions
		label  string
		out    string
		rawDir string
		rawFmt string
	)
	cmd := &cobra.Command{
		Use:   "flygram <data-dir> <key.csv>",
		Short: "Plot group activity per treatment from an experiment key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := analysis.LoadKey(args[1])
			if err != nil {
				return err
			}
			fg, err := analysis.LoadFlygram(args[0], key, opts)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(args[0], "flygram.pdf")
			}
			if err := analysis.PlotFlygram(fg, label, out, 10*vg.Inch, 6*vg.Inch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📈 %s\n", out)

			if rawDir != "" {
				format, err := analysis.ParseReplicateFormat(rawFmt)
				if err != nil {
					return err
				}
				paths, err := analysis.WriteReplicates(rawDir, fg, format)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "📄 %s\n", p)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.BinSize, "bin", 10, "bin size in seconds")
	cmd.Flags().BoolVar(&opts.NormalizeToBaseline, "normalize", false, "divide by mean baseline activity")
	cmd.Flags().Float64Var(&opts.BaselineWindow, "baseline", 120, "baseline window in seconds")
	cmd.Flags().StringVar(&label, "label", "", "stimulus label drawn over the shaded window")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output figure (pdf, png, svg)")
	cmd.Flags().StringVar(&rawDir, "raw-dir", "", "also write binned replicates per treatment to this folder")
	cmd.Flags().StringVar(&rawFmt, "raw-format", "xlsx", "replicate table format (xlsx, csv)")
	return cmd
}

func newImportCommand() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "import <data-dir>",
		Short: "Load result CSVs of earlier runs into the experiment database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = config.Load().DatabasePath
			}
			db, err := sqlite.New(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			log := logger.NewWriterLogger(cmd.ErrOrStderr())
			imp := service.NewImporter(sqlite.NewExperimentRepository(db), sqlite.NewSampleRepository(db), log)
			report, err := imp.ImportDirectory(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d runs (%d samples), skipped %d already stored\n",
				len(report.Imported), report.Samples, len(report.Skipped))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database (default from DB_PATH)")
	return cmd
}
