// Command pgwired runs the PostgreSQL v3 wire protocol engine: it loads
// configuration, wires the ambient stack (metrics, health, admin API)
// around the listener, and serves until a shutdown signal arrives.
// Grounded on the teacher's cmd/dbbouncer/main.go wiring order.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgwire/pgwire/internal/api"
	"github.com/pgwire/pgwire/internal/app"
	"github.com/pgwire/pgwire/internal/config"
	"github.com/pgwire/pgwire/internal/health"
	"github.com/pgwire/pgwire/internal/metrics"
	"github.com/pgwire/pgwire/internal/router"
	"github.com/pgwire/pgwire/internal/server"
	"github.com/pgwire/pgwire/internal/session"
	"github.com/pgwire/pgwire/internal/supervisor"
	"github.com/pgwire/pgwire/internal/transport"
	"github.com/pgwire/pgwire/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/pgwired.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("pgwired starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (default backend %q)", *configPath, cfg.Backend.Default)

	m := metrics.New()

	reg := router.New(cfg.Backend.Default)
	reg.Register(cfg.Backend.Default, app.Echo{})

	sup := supervisor.New(wire.ConnID(cfg.Backend.MinConnID), wire.ConnID(cfg.Backend.MaxConnID))
	sessions := session.NewRegistry()

	hc := health.NewChecker(reg, m, 30*time.Second, 3, 5*time.Second)
	hc.Start()

	var tlsAcceptor transport.TLSAcceptor = transport.NoTLSAcceptor{}
	if cfg.TLS.Enabled() {
		der, err := os.ReadFile(cfg.TLS.Identity)
		if err != nil {
			log.Fatalf("Failed to read TLS identity: %v", err)
		}
		acceptor, err := transport.NewPKCS12Acceptor(der, cfg.TLS.Password)
		if err != nil {
			log.Fatalf("Failed to load TLS identity: %v", err)
		}
		tlsAcceptor = acceptor
	}

	srv, err := server.Listen(cfg.Listen.Addr, tlsAcceptor, cfg.TLS.Enabled(), sup, reg, sessions, m)
	if err != nil {
		log.Fatalf("Failed to start listener: %v", err)
	}

	apiServer := api.NewServer(reg, sessions, sup, hc, m)
	if err := apiServer.Start(cfg.Listen.APIAddr); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		if newCfg.Backend.Default != "" && newCfg.Backend.Default != cfg.Backend.Default {
			log.Printf("backend default changed to %q (requires restart to rebind listener)", newCfg.Backend.Default)
		}
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("pgwired ready - listen:%s api:%s", cfg.Listen.Addr, cfg.Listen.APIAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Printf("server stop: %v", err)
	}
	if err := sessions.Drain(ctx); err != nil {
		log.Printf("session drain: %v", err)
	}
	hc.Stop()

	log.Printf("pgwired stopped")
}
