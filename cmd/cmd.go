package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/krau/sketchline/config"
	"github.com/krau/sketchline/hed"
	"github.com/krau/sketchline/onnx"
	"github.com/krau/sketchline/pixel"
	"github.com/krau/sketchline/server"
	"github.com/krau/sketchline/service"
)

func NewCLI() *cobra.Command {
	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "sketchline",
		Short:         "Line drawings and scene dialogue over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(cfgPath); err != nil {
				return err
			}
			setupLogging(config.C().LogLevel)
			return nil
		},
		RunE: runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultFile, "Path to the TOML config file")

	rootCmd.AddCommand(newServeCmd(), newConvertCmd())
	return rootCmd
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.ExactArgs(0),
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	slog.Info("Starting sketchline")
	defer onnx.Destroy()

	srv, err := server.New(config.C())
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer srv.Close()

	gin.SetMode(gin.ReleaseMode)
	return srv.Run(cmd.Context())
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Turn an image file into a line drawing",
		Long:  "Turn an image file into a line drawing. The output is JPEG when its name ends in .jpg or .jpeg, PNG otherwise.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer onnx.Destroy()
			return convert(config.C(), args[0], args[1])
		},
	}
}

func outputFormat(path string) pixel.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return pixel.JPEG
	}
	return pixel.PNG
}

func convert(cfg config.Config, in, out string) error {
	engine := hed.New()
	defer engine.Close()
	graph, weights := cfg.ModelPaths()
	if err := engine.Load(hed.Options{Backend: cfg.Backend, GraphPath: graph, WeightsPath: weights}); err != nil {
		return err
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	buf, err := pixel.DecodeRaw(data, cfg.MaxPixels)
	if err != nil {
		return err
	}
	drawing, err := service.NewPipeline(engine, cfg.MaxEdge, cfg.MaxPixels).Run(buf)
	if err != nil {
		return err
	}
	encoded, err := pixel.EncodeBytes(drawing, outputFormat(out))
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	slog.Info("Wrote line drawing", slog.String("path", out),
		slog.Int("width", drawing.Width), slog.Int("height", drawing.Height))
	return nil
}
