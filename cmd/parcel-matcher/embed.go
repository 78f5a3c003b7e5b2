package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/parcel-matcher/internal/app"
	"github.com/menta2k/parcel-matcher/pkg/detection"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

var embedCmd = &cobra.Command{
	Use:   "embed <image>",
	Short: "Detect, crop and embed one image",
	Long: `Run the first half of the pipeline on one image and print the resulting
feature vector summary. Use --json to get the full vector.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)

	addPipelineFlags(embedCmd)
	embedCmd.Flags().Bool("json", false, "Output the side description and full vector as JSON")
}

// EmbedOutput is the JSON form of the embed command
type EmbedOutput struct {
	types.Side
	Norm      float64         `json:"norm"`
	Embedding types.Embedding `json:"embedding"`
}

func runEmbed(cmd *cobra.Command, args []string) error {
	applyOverrides(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := checkImagePath(args[0]); err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	img, err := a.Matcher.LoadImage(ctx, args[0])
	if err != nil {
		return err
	}
	side, emb, err := a.Matcher.Describe(ctx, img)
	if err != nil {
		return err
	}
	side.Source = args[0]

	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(out)
		return enc.Encode(EmbedOutput{Side: side, Norm: emb.Norm(), Embedding: emb})
	}

	fmt.Fprintf(out, "selected: %s\n", detection.Describe([]types.Detection{side.Selected}))
	fmt.Fprintf(out, "dim:      %d\n", emb.Dim())
	fmt.Fprintf(out, "norm:     %.4f\n", emb.Norm())
	head := emb
	if len(head) > 8 {
		head = head[:8]
	}
	fmt.Fprintf(out, "head:     %v\n", []float32(head))
	return nil
}
