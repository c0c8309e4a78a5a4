// Command vaultbackup-server runs the file-receiving half of the backup
// protocol: it accepts TCP connections, performs key exchange, reassembles
// and decrypts uploaded files, and persists client and file metadata in the
// registry.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultkeep/vaultbackup/internal/registry"
	"github.com/vaultkeep/vaultbackup/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/vaultbackup/server.yaml", "path to server YAML configuration")
	flag.Parse()

	cfg, err := loadServerConfig(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.Directory, 0o755); err != nil {
		log.Fatalf("create storage directory %s: %v", cfg.Storage.Directory, err)
	}
	storage, err := server.NewStorage(cfg.Storage.Directory)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	reg, err := registry.Open(cfg.Registry)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	l := server.NewListener(cfg, reg, storage)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.Serve() }()

	select {
	case sig := <-sigChan:
		log.Printf("received %s, draining connections", sig)
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
		return
	}

	drainTimeout := time.Duration(cfg.Limits.DrainTimeoutSeconds) * time.Second
	if err := l.Shutdown(drainTimeout); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
	log.Printf("vaultbackup-server stopped")
}

// loadServerConfig reads the configured path, falling back to defaults when
// the file doesn't exist yet so a first run against a fresh host can still
// start.
func loadServerConfig(path string) (*server.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("no config file at %s, using defaults", path)
		cfg := server.DefaultConfig()
		return cfg, cfg.Validate()
	}
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
