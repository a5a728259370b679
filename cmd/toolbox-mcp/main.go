// toolbox-mcp serves the toolbox tools over MCP: stdio for a local client,
// or HTTP (JSON routes plus SSE) for remote callers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/toolbox/internal/config"
	"github.com/vthunder/toolbox/internal/logging"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/mcp/tools"
)

var (
	cfgFile string
	stdio   bool
	addr    string
	proxies bool
	debug   bool
)

func main() {
	root := &cobra.Command{
		Use:          "toolbox-mcp",
		Short:        "Serve toolbox tools over MCP",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "config file")
	root.Flags().BoolVar(&stdio, "stdio", false, "serve over stdin/stdout instead of HTTP")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: mcp.addr)")
	root.Flags().BoolVar(&proxies, "proxy", false, "also expose tools of the stdio servers in mcp.servers_file")
	root.Flags().BoolVar(&debug, "debug", false, "verbose logging on stderr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetDebug(cfg.Debug || debug)

	deps, err := tools.FromConfig(cfg)
	if err != nil {
		return err
	}
	reg := tools.NewRegistry(deps)

	if proxies {
		clients, err := mcp.StartProxies(ctx, cfg.MCP.ServersFile, reg)
		if err != nil {
			logging.Warn("main", "proxies disabled: %v", err)
		}
		defer func() {
			for _, c := range clients {
				c.Close()
			}
		}()
	}
	logging.Info("main", "%d tools registered", len(reg.Tools()))

	if stdio {
		return mcp.ServeStdio(reg)
	}
	if addr == "" {
		addr = cfg.MCP.Addr
	}
	return serveHTTP(ctx, addr, mcp.NewHTTPHandler(reg, mcp.HTTPConfig{
		BaseURL: cfg.MCP.BaseURL,
		Token:   cfg.MCP.Token,
	}))
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info("main", "listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("main", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
