// Package cmd implements the tdx-attest CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-tdx-attest/internal/config"
	"github.com/edgelesssys/go-tdx-attest/internal/server"
	"github.com/edgelesssys/go-tdx-attest/tdx"
	"github.com/edgelesssys/go-tdx-attest/tee"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes of the tdx-attest binary.
const (
	ExitFailure           = 1
	ExitConfig            = 2
	ExitDeviceNotFound    = 3
	ExitDeprecatedDevice  = 4
	ExitUnsupportedTEE    = 5
	defaultRequestTimeout = time.Minute
)

var errConfig = errors.New("invalid configuration")

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errConfig):
		return ExitConfig
	case errors.Is(err, tdx.ErrDeviceNotFound):
		return ExitDeviceNotFound
	case errors.Is(err, tdx.ErrDeprecatedDevice):
		return ExitDeprecatedDevice
	case errors.Is(err, tee.ErrUnsupported):
		return ExitUnsupportedTEE
	default:
		return ExitFailure
	}
}

// NewRootCmd returns the tdx-attest root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tdx-attest",
		Short: "Intel TDX quote generation",
		Long: `tdx-attest generates Intel TDX quotes inside a trust domain.

It can serve quotes, measurements, and the CCEL event log over gRPC,
or run a single request against the local TDX guest device or a running server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("device-root", "", "filesystem root below which device nodes are looked up")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Duration("timeout", 0, "timeout of a single request to the TDX guest device")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newQuoteCmd())
	rootCmd.AddCommand(newMeasureCmd())
	rootCmd.AddCommand(newEventlogCmd())
	rootCmd.AddCommand(newInspectCmd())
	return rootCmd
}

// loadConfig reads the config file, if any, and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	cfg := config.Default()

	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, fmt.Errorf("%w: %w", errConfig, err)
		}
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"device-root", &cfg.DeviceRoot},
		{"log-level", &cfg.LogLevel},
		{"socket", &cfg.Socket},
		{"socket-mode", &cfg.SocketMode},
		{"tcp-address", &cfg.TCPAddress},
	}
	for _, o := range overrides {
		if flags.Lookup(o.flag) == nil || !flags.Changed(o.flag) {
			continue
		}
		if *o.dst, err = flags.GetString(o.flag); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("timeout") {
		if cfg.QuoteTimeout, err = flags.GetDuration("timeout"); err != nil {
			return config.Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

// newLogger creates a JSON logger writing to stderr.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	return zapCfg.Build()
}

// newProvider checks for a supported TEE and returns a provider for the local TDX guest device.
func newProvider(cfg config.Config, log *zap.Logger) (*tdx.Provider, error) {
	if err := tee.Require(tee.Detect(cfg.DeviceRoot)); err != nil {
		return nil, err
	}
	protocol, err := tdx.Locate(cfg.DeviceRoot)
	if err != nil {
		return nil, err
	}
	log.Debug("Located TDX guest device", zap.Stringer("variant", protocol.Variant()), zap.String("path", protocol.DevicePath()))
	return tdx.NewProvider(protocol, cfg.QuoteTimeout, log), nil
}

// dialServer connects to a running server if the --server flag was given.
func dialServer(cmd *cobra.Command) (*server.Client, error) {
	target, err := cmd.Flags().GetString("server")
	if err != nil || target == "" {
		return nil, err
	}
	return server.Dial(cmd.Context(), target)
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "gRPC target of a running server, for example unix://"+config.DefaultSocket+" (default: use the local device)")
}

// setup loads the config and creates the logger.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), defaultRequestTimeout)
}

func writeOutput(cmd *cobra.Command, s string) error {
	_, err := fmt.Fprintln(cmd.OutOrStdout(), s)
	return err
}
