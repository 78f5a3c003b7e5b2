package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/parcel-matcher/internal/app"
	"github.com/menta2k/parcel-matcher/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the matching API.

Endpoints:
  POST /api/v1/match   multipart files "query" and "reference"
  POST /api/v1/detect  multipart file "file"
  GET  /health`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addPipelineFlags(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	applyOverrides(cmd)
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = mustGetString(cmd, "addr")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(cfg.Server, a.Matcher)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Parcel matcher API listening on %s\n", cfg.Server.Addr)
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
