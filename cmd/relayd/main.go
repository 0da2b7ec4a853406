// Command relayd is the relay server: it listens on the public port,
// disambiguates Minecraft players from tunnel clients on first bytes, and
// routes traffic through a shared distributor (see internal/relay).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"craftip/internal/config"
	"craftip/internal/distributor"
	"craftip/internal/logging"
	"craftip/internal/relay"
	"craftip/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to relay TOML config file (default: discovered or none)")
		logLevel   = flag.String("log-level", "", "override the config's logging level (debug|info|warn|error)")
		logFormat  = flag.String("log-format", "", "override the config's logging format (json|text)")
		transName  = flag.String("transport", "", "override the config's transport (tcp|kcp|quic)")
		quicCert   = flag.String("quic-cert", "", "QUIC certificate file (auto-generated self-signed if omitted)")
		quicKey    = flag.String("quic-key", "", "QUIC private key file (auto-generated self-signed if omitted)")
	)
	flag.Parse()

	resolved, err := config.ResolveConfigPath(*configPath)
	cfgPath := ""
	if err == nil {
		cfgPath = resolved.Path
	}
	cfg, err := config.LoadRelayConfig(cfgPath)
	if err != nil {
		log.Fatalf("relayd: load config: %v", err)
	}

	// The normative positional bind_addr argument (spec.md §6) overrides the
	// config file's value when given.
	if addr := flag.Arg(0); addr != "" {
		cfg.BindAddr = addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *transName != "" {
		cfg.Transport = *transName
	}
	if *quicCert != "" {
		cfg.QUIC.CertFile = *quicCert
	}
	if *quicKey != "" {
		cfg.QUIC.KeyFile = *quicKey
	}

	rt, err := logging.NewRuntime(cfg.Logging, "relayd")
	if err != nil {
		log.Fatalf("relayd: configure logging: %v", err)
	}
	defer rt.Close()
	logger := rt.Logger()

	tr, err := transport.ByName(cfg.Transport)
	if err != nil {
		logger.Error("relayd: transport", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dist := distributor.New()
	srv := relay.New(relay.Options{
		Transport:   tr,
		BindAddr:    cfg.BindAddr,
		Distributor: dist,
		Logger:      logger,
		ListenOptions: transport.ListenOptions{
			QUIC: transport.QUICOptions{CertFile: cfg.QUIC.CertFile, KeyFile: cfg.QUIC.KeyFile},
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("relayd: exited with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("relayd exited")
}
