// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nholm/ballast/internal/config"
	"github.com/nholm/ballast/internal/log"
)

// PerformStartupChecks validates the environment and configuration
// before the daemon starts serving. It fails fast on the first broken
// precondition.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, "server", cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if cfg.Metrics.ListenAddr != "" {
		if err := checkListenAddr(logger, "metrics", cfg.Metrics.ListenAddr); err != nil {
			return fmt.Errorf("metrics listen address check failed: %w", err)
		}
	}
	if err := checkDatabaseDSN(logger, cfg.Database.DSN); err != nil {
		return fmt.Errorf("database DSN check failed: %w", err)
	}
	if cfg.Jobs.Enabled {
		if err := checkLedgerDir(logger, cfg.Jobs.LedgerPath); err != nil {
			return fmt.Errorf("ledger path check failed: %w", err)
		}
	}
	if cfg.Cache.Backend == "redis" {
		if _, _, err := net.SplitHostPort(cfg.Cache.RedisAddr); err != nil {
			return fmt.Errorf("redis address check failed: invalid address %q: %w", cfg.Cache.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("✓ Redis address is valid")
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Msgf("✓ %s listen address is valid", name)
	return nil
}

func checkDatabaseDSN(logger zerolog.Logger, dsn string) error {
	if dsn == "" {
		logger.Warn().Msg("database DSN not configured; item storage disabled")
		return nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("DSN scheme must be postgres or postgresql, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("DSN has no host")
	}
	logger.Info().Str("host", u.Host).Msg("✓ Database DSN is well-formed")
	return nil
}

func checkLedgerDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("ledger path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("cannot create ledger directory %s: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("ledger directory is not writable: %s (error: %v)", dir, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Ledger directory is writable")
	return nil
}
