package main

import (
	"encoding/json"
	"fmt"
	"log"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/menta2k/parcel-matcher/internal/app"
	"github.com/menta2k/parcel-matcher/internal/utils"
	"github.com/menta2k/parcel-matcher/pkg/cropper"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Run only the detector and list the boxes",
	Long: `Run the configured detector on one image and list every box above the
confidence threshold. The box the cropper would select is marked with *.`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

// detectOutput is the --json form of the detect command
type detectOutput struct {
	processing.ImageInfo
	Detections []types.Detection `json:"detections"`
	// Selected indexes Detections, -1 when empty
	Selected int `json:"selected"`
}

func init() {
	rootCmd.AddCommand(detectCmd)

	addPipelineFlags(detectCmd)
	detectCmd.Flags().Bool("json", false, "Output detections as JSON")
	detectCmd.Flags().String("overlay", "", "Save an image with the boxes drawn to this path")
}

func runDetect(cmd *cobra.Command, args []string) error {
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
	dets, err := a.Matcher.Detect(ctx, img)
	if err != nil {
		return err
	}

	policy, err := cropper.ParsePolicy(cfg.Cropper.Policy)
	if err != nil {
		return err
	}
	selected := cropper.SelectIndex(dets, policy)
	var selectedBox types.Box
	if selected >= 0 {
		selectedBox = dets[selected].Box
	}

	p := processing.NewProcessor()
	if path := mustGetString(cmd, "overlay"); path != "" {
		if err := p.SaveImage(p.CreateDebugOverlay(img, dets, selectedBox), path, utils.GetFileExtension(path), 92, false); err != nil {
			return fmt.Errorf("failed to save overlay: %w", err)
		}
		log.Printf("wrote %s", path)
	}

	out := cmd.OutOrStdout()
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(detectOutput{
			ImageInfo:  p.GetImageInfo(img),
			Detections: dets,
			Selected:   selected,
		})
	}

	if len(dets) == 0 {
		fmt.Fprintln(out, "no detections")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tLABEL\tSCORE\tX1\tY1\tX2\tY2")
	for i, d := range dets {
		mark := ""
		if i == selected {
			mark = "*"
		}
		label := d.Label
		if label == "" {
			label = fmt.Sprintf("class%d", d.ClassID)
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%.0f\t%.0f\t%.0f\t%.0f\n", mark, label, d.Score, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	return w.Flush()
}
