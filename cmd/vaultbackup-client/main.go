// Command vaultbackup-client uploads a single configured file to a
// vaultbackup-server, running the full register-or-reconnect, key-exchange,
// encrypted-upload, CRC-verify transfer once and exiting with a status code
// describing the outcome.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/vaultkeep/vaultbackup/internal/client"
	"github.com/vaultkeep/vaultbackup/internal/verrors"
)

// Exit codes: 0 on success, otherwise the ordinal of the failing error
// kind so operators can distinguish a config mistake from a CRC failure
// in scripts without parsing log text.
const (
	exitOK = iota
	exitConfigError
	exitNetworkError
	exitProtocolError
	exitCryptoError
	exitStorageError
	exitIntegrityError
	exitUnknown
)

func main() {
	configPath := flag.String("config", "/etc/vaultbackup/client.yaml", "path to client YAML configuration")
	flag.Parse()

	cfg, err := client.LoadConfig(*configPath)
	if err != nil {
		log.Printf("load configuration: %v", err)
		os.Exit(exitConfigError)
	}

	identity, err := client.LoadOrCreateIdentity(cfg.Identity.StateDir, cfg.Identity.Name)
	if err != nil {
		log.Printf("load identity: %v", err)
		os.Exit(exitStorageError)
	}

	tr := client.NewTransfer(cfg, identity)
	outcome, err := tr.Run()
	if err != nil {
		log.Printf("transfer failed: %v", err)
		os.Exit(exitCodeFor(err))
	}

	fmt.Printf("transfer %s: %s\n", outcome, cfg.Transfer.FilePath)
	os.Exit(exitOK)
}

func exitCodeFor(err error) int {
	var (
		configErr    *verrors.ConfigError
		networkErr   *verrors.NetworkError
		protocolErr  *verrors.ProtocolError
		cryptoErr    *verrors.CryptoError
		storageErr   *verrors.StorageError
		integrityErr *verrors.IntegrityError
	)
	switch {
	case errors.As(err, &configErr):
		return exitConfigError
	case errors.As(err, &networkErr):
		return exitNetworkError
	case errors.As(err, &protocolErr):
		return exitProtocolError
	case errors.As(err, &cryptoErr):
		return exitCryptoError
	case errors.As(err, &storageErr):
		return exitStorageError
	case errors.As(err, &integrityErr):
		return exitIntegrityError
	default:
		return exitUnknown
	}
}
