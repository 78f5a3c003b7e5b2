package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/menta2k/parcel-matcher/internal/app"
	"github.com/menta2k/parcel-matcher/internal/utils"
	"github.com/menta2k/parcel-matcher/pkg/matcher"
	"github.com/menta2k/parcel-matcher/pkg/processing"
	"github.com/menta2k/parcel-matcher/pkg/types"
)

var matchCmd = &cobra.Command{
	Use:   "match <query> <reference>",
	Short: "Decide whether two photos show the same parcel",
	Long: `Detect, crop and embed both images, then compare the embeddings.

Prints the AWB identifier on a match and "no match" otherwise. Images may be
local files or http(s) URLs.

Examples:
  # Default pipeline from config
  parcel-matcher match parcel.jpg label.jpg

  # Stricter threshold, full result as JSON
  parcel-matcher match parcel.jpg label.jpg --threshold 0.7 --json

  # Keep the crops and an overlay of every detection
  parcel-matcher match parcel.jpg label.jpg --save-crops out/ --crop-format webp`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	addPipelineFlags(matchCmd)
	matchCmd.Flags().Bool("json", false, "Output the full result as JSON")
	matchCmd.Flags().String("save-crops", "", "Directory to save crops and detection overlays")
	matchCmd.Flags().String("crop-format", "jpg", "Format for saved crops: jpg, png, webp")
	matchCmd.Flags().Int("quality", 90, "JPEG/WebP quality for saved crops (1-100)")
	matchCmd.Flags().Bool("lossless", false, "WebP lossless mode for saved crops")
}

// signalContext cancels on Ctrl+C or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// checkImagePath rejects local paths without a decodable image extension.
// URLs are left to the downloader.
func checkImagePath(source string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return nil
	}
	if !utils.IsImageFile(source) {
		return fmt.Errorf("%s: not an image file (extension %q)", source, utils.GetFileExtension(source))
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	applyOverrides(cmd)

	for _, path := range args {
		if err := checkImagePath(path); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	var opts []matcher.Option
	if dir := mustGetString(cmd, "save-crops"); dir != "" {
		saver, err := newCropSaver(cmd, dir, map[string]string{
			matcher.RoleQuery:     args[0],
			matcher.RoleReference: args[1],
		})
		if err != nil {
			return err
		}
		opts = append(opts, matcher.WithCropSink(saver.save))
	}

	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Matcher.MatchFiles(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	return printMatch(cmd.OutOrStdout(), result, mustGetBool(cmd, "json"))
}

func printMatch(w io.Writer, result *types.MatchResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if !result.Decision.Match {
		fmt.Fprintf(w, "no match (similarity %.4f, threshold %.2f)\n", result.Decision.Similarity, result.Decision.Threshold)
		return nil
	}
	fmt.Fprintln(w, strings.TrimRight(result.AWB, "\r\n"))
	return nil
}

// cropSaver writes each crop and an overlay of the source detections
type cropSaver struct {
	dir       string
	format    string
	quality   int
	lossless  bool
	inputs    map[string]string
	processor *processing.Processor
}

func newCropSaver(cmd *cobra.Command, dir string, inputs map[string]string) (*cropSaver, error) {
	format := strings.ToLower(mustGetString(cmd, "crop-format"))
	if !utils.IsOutputFormat(format) {
		return nil, fmt.Errorf("unsupported crop format %q (use jpg, png or webp)", format)
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	quality, err := cmd.Flags().GetInt("quality")
	if err != nil {
		return nil, err
	}

	return &cropSaver{
		dir:       dir,
		format:    format,
		quality:   quality,
		lossless:  mustGetBool(cmd, "lossless"),
		inputs:    inputs,
		processor: processing.NewProcessor(),
	}, nil
}

func (s *cropSaver) save(role string, src, crop image.Image, side types.Side) {
	input := s.inputs[role]

	cropPath := utils.GenerateOutputFilename(input, s.dir, role+"_", "_crop", s.format)
	if err := s.processor.SaveImage(crop, cropPath, s.format, s.quality, s.lossless); err != nil {
		log.Printf("save %s failed: %v", cropPath, err)
	} else {
		log.Printf("wrote %s", cropPath)
	}

	overlay := s.processor.CreateDebugOverlay(src, side.Detections, side.Selected.Box)
	overlayPath := utils.GenerateOutputFilename(input, s.dir, role+"_", "_overlay", s.format)
	if err := s.processor.SaveImage(overlay, overlayPath, s.format, s.quality, s.lossless); err != nil {
		log.Printf("save %s failed: %v", overlayPath, err)
	} else {
		log.Printf("wrote %s", overlayPath)
	}
}
