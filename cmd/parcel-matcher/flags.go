package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetFloat64 gets a float64 flag value or panics if the flag doesn't exist.
func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// applyOverrides copies explicitly set pipeline flags into the configuration
func applyOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("threshold") {
		cfg.Similarity.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if cmd.Flags().Changed("confidence") {
		cfg.Detector.Confidence = mustGetFloat64(cmd, "confidence")
	}
	if cmd.Flags().Changed("detector") {
		cfg.Detector.Backend = mustGetString(cmd, "detector")
	}
	if cmd.Flags().Changed("policy") {
		cfg.Cropper.Policy = mustGetString(cmd, "policy")
	}
	if cmd.Flags().Changed("lookup") {
		cfg.Lookup.Path = mustGetString(cmd, "lookup")
	}
}

// addPipelineFlags registers the flags read by applyOverrides
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("threshold", 0.5, "Minimum cosine similarity for a match")
	cmd.Flags().Float64("confidence", 0.85, "Minimum detection confidence")
	cmd.Flags().String("detector", "onnx", "Detector backend: onnx, http, cloudvision, ollama, llamacpp, saliency")
	cmd.Flags().String("policy", "last", "Which detection to crop: last, highest_score, largest")
	cmd.Flags().String("lookup", "./AWB.txt", "File whose last line is returned on a match")
}
