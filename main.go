package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/n0madic/go-xaigate/internal/config"
	"github.com/n0madic/go-xaigate/internal/server"
	"github.com/n0madic/go-xaigate/internal/toolcheck"
	"github.com/n0madic/go-xaigate/internal/types"
)

var (
	configPath string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ve *toolcheck.ValidationError
		if !errors.As(err, &ve) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "go-xaigate",
		Short:         "OpenAI-compatible gateway in front of the xAI API",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("XAI_CONFIG_FILE"), "YAML config file overlaid on the environment")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text|json)")

	root.AddCommand(newServeCmd(), newConfigCmd(), newCheckToolsCmd(), newVersionCmd())
	return root
}

// loadConfig builds the effective configuration: environment defaults, then
// the YAML file, then flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	cfg := config.DefaultFromEnv()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	return cfg, nil
}

func setupLogging(verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Verbose || cfg.Debug); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "Bind host")
	cmd.Flags().Int("port", 8000, "Listen port")
	cmd.Flags().Bool("verbose", false, "Enable verbose request logging")
	cmd.Flags().Bool("debug", false, "Dump raw inbound and upstream traffic to stderr")
	return cmd
}

func serve(cfg *config.ServerConfig) error {
	srv := server.New(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("xai gateway starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"api_base", cfg.APIBase,
		"api_key", cfg.MaskedAPIKey(),
		"rate_limit", cfg.RateLimit,
		"auth", cfg.AuthEnabled,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.MaskedYAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			color.Blue("Effective configuration:")
			fmt.Print(string(out))
			if err := cfg.Validate(); err != nil {
				color.Yellow("Warning: %s", err.Error())
			}
			return nil
		},
	}
}

// toolFile is the accepted check-tools input: a bare tool list or an
// object carrying tools and an optional tool_choice.
type toolFile struct {
	Tools      []types.ChatTool `json:"tools"`
	ToolChoice any              `json:"tool_choice,omitempty"`
}

func newCheckToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-tools <file>",
		Short: "Validate a JSON tool declaration against the configured limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read tools file: %w", err)
			}
			var file toolFile
			if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
				err = json.Unmarshal(data, &file.Tools)
			} else {
				err = json.Unmarshal(data, &file)
			}
			if err != nil {
				return fmt.Errorf("parse tools file: %w", err)
			}

			v := toolcheck.New(cfg.Tools)
			if err := v.ValidateTools(file.Tools); err != nil {
				return reportToolError(err)
			}
			if file.ToolChoice != nil {
				if err := v.ValidateToolChoice(file.ToolChoice, file.Tools); err != nil {
					return reportToolError(err)
				}
			}
			color.Green("OK: %d tool(s) valid", len(file.Tools))
			for _, t := range file.Tools {
				fmt.Printf("  • %s\n", t.FunctionName())
			}
			return nil
		},
	}
}

func reportToolError(err error) error {
	var ve *toolcheck.ValidationError
	if errors.As(err, &ve) {
		color.Red("Invalid (%s): %s", ve.Rule, ve.Message)
	} else {
		color.Red("Invalid: %s", err.Error())
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Println("go-xaigate", config.Version)
		},
	}
}
