package cmd

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/edgelesssys/go-tdx-attest/internal/config"
	"github.com/edgelesssys/go-tdx-attest/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve quotes, measurements, and the event log over gRPC",
		Long: `Serve quotes, measurements, and the event log over gRPC.

The server listens on a Unix domain socket and optionally on a TCP address.
It stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("socket", "", "path of the Unix domain socket (default "+config.DefaultSocket+")")
	cmd.Flags().String("socket-mode", "", "octal file mode of the Unix domain socket (default 0666)")
	cmd.Flags().String("tcp-address", "", "additional host:port to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	provider, err := newProvider(cfg, log)
	if err != nil {
		log.Error("No usable TDX guest device", zap.Error(err))
		return err
	}
	log.Info("Using TDX guest device", zap.Stringer("variant", provider.Variant()))

	listeners, err := listen(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(provider, cfg.EventlogPaths, log)
	return srv.Serve(ctx, listeners...)
}

// listen opens all listeners configured in cfg.
func listen(cfg config.Config) ([]net.Listener, error) {
	var listeners []net.Listener
	closeAll := func() {
		for _, lis := range listeners {
			lis.Close()
		}
	}

	if cfg.Socket != "" {
		mode, err := cfg.FileMode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errConfig, err)
		}
		lis, err := server.ListenUnix(cfg.Socket, mode)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, lis)
	}
	if cfg.TCPAddress != "" {
		lis, err := net.Listen("tcp", cfg.TCPAddress)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("listening on %s: %w", cfg.TCPAddress, err)
		}
		listeners = append(listeners, lis)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("%w: neither socket nor TCP address set", errConfig)
	}
	return listeners, nil
}
