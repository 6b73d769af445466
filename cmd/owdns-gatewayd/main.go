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

	owdns "github.com/folbricht/owdns-gatewayd"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// buildVersion is set via -ldflags at release build time; left blank in dev
// builds.
var buildVersion string

type options struct {
	logLevel uint32
	version  bool
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "owdns-gatewayd <config> [<config>..]",
		Short: "DNS-over-HTTPS gateway",
		Long: `DNS-over-HTTPS gateway.

Accepts RFC 8484 wire-format and Google/Cloudflare-style JSON
queries over HTTP, routes them to named upstream groups by
query name, and caches answers per the TTL rules of the
upstream response.

Configuration can be split over multiple files with resolvers,
groups and routing rules defined in different files and provided
as arguments.
`,
		Example: `  owdns-gatewayd config.yaml`,
		Args:    cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=None .. 6=Trace")
	cmd.Flags().BoolVarP(&opt.version, "version", "v", false, "Prints version string")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, args []string) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	if opt.version {
		fmt.Println("Version:", buildVersion)
		os.Exit(0)
	}
	if len(args) < 1 {
		return errors.New("not enough arguments")
	}
	owdns.Log.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := loadConfig(args...)
	if err != nil {
		return err
	}

	pipeline, err := build(cfg)
	if err != nil {
		return err
	}

	srv := newGatewayServer(cfg.HTTPServer, pipeline.resolver)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.start(cfg.HTTPServer); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case err := <-errCh:
		return err
	case <-sig:
	}

	owdns.Log.Info("stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.shutdown(ctx); err != nil {
		owdns.Log.WithError(err).Warn("http server shutdown error")
	}
	for _, closer := range pipeline.closers {
		if err := closer(); err != nil {
			owdns.Log.WithError(err).Warn("shutdown cleanup error")
		}
	}
	return nil
}
