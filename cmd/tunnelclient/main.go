// Command tunnelclient dials a relay, authenticates as the owner of a
// persisted Ed25519 identity, and fans multiplexed player slots out to a
// local Minecraft server (see internal/tunnelclient).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"craftip/internal/config"
	"craftip/internal/identity"
	"craftip/internal/logging"
	"craftip/internal/transport"
	"craftip/internal/tunnelclient"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tunnel client YAML config file (default: discovered or none)")
		statePath  = flag.String("state", "", "path to the persisted JSON tunnel state (default: alongside the config directory)")
		serverAddr = flag.String("server", "", "relay address to dial (overrides/creates the first saved tunnel record)")
		localAddr  = flag.String("local", "", "local Minecraft server address to forward to")
		logLevel   = flag.String("log-level", "", "override the config's logging level (debug|info|warn|error)")
		logFormat  = flag.String("log-format", "", "override the config's logging format (json|text)")
		transName  = flag.String("transport", "", "override the config's transport (tcp|kcp|quic)")
		quicInsec  = flag.Bool("quic-insecure", false, "skip QUIC server certificate verification (self-signed relays)")
		quicName   = flag.String("quic-server-name", "", "QUIC TLS server name to verify against")
	)
	flag.Parse()

	resolved, rerr := config.ResolveConfigPath(*configPath)
	cfgPath := ""
	if rerr == nil {
		cfgPath = resolved.Path
	}
	cfg, err := config.LoadTunnelClientConfig(cfgPath)
	if err != nil {
		log.Fatalf("tunnelclient: load config: %v", err)
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

	rt, err := logging.NewRuntime(cfg.Logging, "tunnelclient")
	if err != nil {
		log.Fatalf("tunnelclient: configure logging: %v", err)
	}
	defer rt.Close()
	logger := rt.Logger()

	state, record, dirty, err := loadOrCreateRecord(*statePath, cfgPath, *serverAddr, *localAddr)
	if err != nil {
		logger.Error("tunnelclient: load state", "err", err)
		os.Exit(1)
	}
	priv, err := identity.DecodeHex(record.Auth.Key)
	if err != nil {
		logger.Error("tunnelclient: decode identity", "err", err)
		os.Exit(1)
	}

	tr, err := transport.ByName(cfg.Transport)
	if err != nil {
		logger.Error("tunnelclient: transport", "err", err)
		os.Exit(1)
	}

	status := make(chan tunnelclient.StatusEvent, 32)
	client := tunnelclient.New(tunnelclient.Options{
		ServerAddr: record.Server,
		LocalAddr:  record.Local,
		Identity:   priv,
		Transport:  tr,
		DialOptions: transport.DialOptions{
			QUIC: transport.QUICDialOptions{ServerName: *quicName, InsecureSkipVerify: *quicInsec},
		},
		Logger: logger,
		Status: status,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})
	g.Go(func() error {
		logStatus(gctx, logger, status)
		return nil
	})

	runErr := g.Wait()

	if dirty {
		sp := resolveStatePath(*statePath, cfgPath)
		if err := state.Save(sp); err != nil {
			logger.Warn("tunnelclient: save state", "path", sp, "err", err)
		}
	}

	if runErr != nil && ctx.Err() == nil {
		logger.Error("tunnelclient: exited with error", "err", runErr)
		os.Exit(1)
	}
	fmt.Println("tunnelclient exited")
}

// loadOrCreateRecord reads the persisted tunnel state and returns the
// record to run. When the state file has no saved tunnel yet, -server and
// -local must be given on the command line; a fresh Ed25519 identity is
// generated and appended, to be saved back by the caller once the session
// ends (dirty reports this case).
func loadOrCreateRecord(statePath, cfgPath, serverAddr, localAddr string) (config.TunnelClientState, config.TunnelRecord, bool, error) {
	sp := resolveStatePath(statePath, cfgPath)
	state, err := config.LoadTunnelClientState(sp)
	if err != nil {
		return nil, config.TunnelRecord{}, false, err
	}

	if len(state) > 0 {
		rec := state[0]
		dirty := false
		if serverAddr != "" {
			rec.Server = serverAddr
			dirty = true
		}
		if localAddr != "" {
			rec.Local = localAddr
			dirty = true
		}
		state[0] = rec
		return state, rec, dirty, nil
	}

	if serverAddr == "" || localAddr == "" {
		return nil, config.TunnelRecord{}, false, fmt.Errorf("tunnelclient: no saved tunnel in %s; pass -server and -local to create one", sp)
	}

	priv, err := identity.Generate()
	if err != nil {
		return nil, config.TunnelRecord{}, false, fmt.Errorf("tunnelclient: generate identity: %w", err)
	}
	key, err := priv.EncodeHex()
	if err != nil {
		return nil, config.TunnelRecord{}, false, fmt.Errorf("tunnelclient: encode identity: %w", err)
	}
	rec := config.TunnelRecord{Server: serverAddr, Local: localAddr, Auth: config.AuthRecord{Key: key}}
	return config.TunnelClientState{rec}, rec, true, nil
}

func resolveStatePath(statePath, cfgPath string) string {
	if statePath != "" {
		return statePath
	}
	dir := "."
	if cfgPath != "" {
		dir = filepath.Dir(cfgPath)
	}
	return filepath.Join(dir, "tunnelclient-state.json")
}

func logStatus(ctx context.Context, logger *slog.Logger, status <-chan tunnelclient.StatusEvent) {
	for {
		select {
		case ev, ok := <-status:
			if !ok {
				return
			}
			switch ev.Kind {
			case tunnelclient.StatusConnecting:
				logger.Info("tunnelclient: connecting")
			case tunnelclient.StatusConnected:
				logger.Info("tunnelclient: connected")
			case tunnelclient.StatusDisconnected:
				logger.Warn("tunnelclient: disconnected", "reason", ev.Reason)
			case tunnelclient.StatusClientsConnected:
				logger.Debug("tunnelclient: clients connected", "count", ev.Clients)
			case tunnelclient.StatusPing:
				logger.Debug("tunnelclient: ping", "ms", ev.PingMillis)
			}
		case <-ctx.Done():
			return
		}
	}
}
