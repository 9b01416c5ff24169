package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/model"
)

var (
	analyzeWard  string
	analyzeQuery string
	analyzeDepth string
	analyzeMode  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a single ward analysis and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.orch.Analyze(ctx, model.AnalysisRequest{
			Ward:        analyzeWard,
			Query:       analyzeQuery,
			Depth:       model.Depth(analyzeDepth),
			ContextMode: model.ContextMode(analyzeMode),
		})
		if err != nil {
			return eris.Wrap(err, "run analysis")
		}

		zap.L().Info("analysis complete",
			zap.String("ward", analyzeWard),
			zap.Float64("confidence", result.OverallConfidence),
			zap.Bool("fallback", result.FallbackMode),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeWard, "ward", "", "ward name to analyze (required)")
	analyzeCmd.Flags().StringVar(&analyzeQuery, "query", "", "analysis question (required)")
	analyzeCmd.Flags().StringVar(&analyzeDepth, "depth", string(model.DepthStandard), "analysis depth: quick, standard, or deep")
	analyzeCmd.Flags().StringVar(&analyzeMode, "mode", string(model.ModeNeutral), "context mode: neutral, campaign, governance, or opposition")
	_ = analyzeCmd.MarkFlagRequired("ward")
	_ = analyzeCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(analyzeCmd)
}
