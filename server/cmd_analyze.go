package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/analysis"
	"github.com/san-kum/rep-integrity/server/config"
	"github.com/san-kum/rep-integrity/server/export"
	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/models"
)

var analyzeFlags struct {
	exercise   string
	format     string
	output     string
	configPath string
	workers    int
	policy     string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.json|capture.msgpack>",
	Short: "Analyze a capture bundle offline",
	Long: `Run the analysis engine on a capture bundle and print the result.

Usage:
  rep-integrity analyze run.json
  rep-integrity analyze run.msgpack --exercise situp --format csv -o run.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.exercise, "exercise", "", "Exercise name (default: the capture's exercise)")
	f.StringVar(&analyzeFlags.format, "format", "json", "Output format: json or csv")
	f.StringVarP(&analyzeFlags.output, "output", "o", "", "Output path (default: stdout)")
	f.StringVar(&analyzeFlags.configPath, "config", "", "Analysis YAML overlay (default: $ANALYSIS_CONFIG)")
	f.IntVar(&analyzeFlags.workers, "workers", 0, "Extraction workers (default: configured value)")
	f.StringVar(&analyzeFlags.policy, "policy", "", "Cheat policy: any_evidence or score_below")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(analyzeFlags.format)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if analyzeFlags.configPath != "" {
		if err := cfg.Analysis.LoadFile(analyzeFlags.configPath); err != nil {
			return err
		}
	}
	if analyzeFlags.workers > 0 {
		cfg.Analysis.Engine.Workers = analyzeFlags.workers
	}
	if analyzeFlags.policy != "" {
		cfg.Analysis.Engine.Integrity.Policy = models.CheatPolicy(analyzeFlags.policy)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	capture, err := readCapture(args[0])
	if err != nil {
		return err
	}

	registry, err := cfg.Analysis.Registry()
	if err != nil {
		return err
	}
	engine, err := analysis.NewEngine(cfg.Analysis.Engine, registry, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result, err := engine.AnalyzeCapture(ctx, capture, analyzeFlags.exercise)
	if err != nil {
		return err
	}
	logger.Info("Analysis finished",
		zap.String("capture", args[0]),
		zap.String("exercise", result.Exercise),
		zap.Int("total_reps", result.TotalReps),
		zap.Bool("cheat_flag", result.CheatFlag))

	return writeOutput(analyzeFlags.output, func(w io.Writer) error {
		return export.Write(w, result, format)
	})
}

func readCapture(path string) (*models.Capture, error) {
	format, err := framestore.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()
	return framestore.Decode(f, format)
}

// writeOutput writes to path, or stdout when path is empty.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

