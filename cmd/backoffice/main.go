// Command backoffice runs the API-key vault and usage-metering service and
// its management CLI.
package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liveyourdreams/backoffice-metering/internal/apikey"
	"github.com/liveyourdreams/backoffice-metering/internal/audit"
	"github.com/liveyourdreams/backoffice-metering/internal/config"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
	"github.com/liveyourdreams/backoffice-metering/internal/eventbus"
	"github.com/liveyourdreams/backoffice-metering/internal/logging"
	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
	"github.com/liveyourdreams/backoffice-metering/internal/usage"
)

var rootCmd = &cobra.Command{
	Use:   "backoffice",
	Short: "API key vault and usage metering for LLM-backed features",
	Long: `backoffice stores vendor API keys encrypted at rest, meters every
external API call against a pricing table, and serves the aggregation
views the dashboard is built on.`,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(addKeyCmd)
	rootCmd.AddCommand(listKeysCmd)
	rootCmd.AddCommand(deactivateKeyCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(generateSecretCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// loadConfig loads .env (if present) and the full environment configuration.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.New()
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	return database.NewFromConfig(database.Config{
		Driver:       database.DriverType(cfg.DatabaseDriver),
		Path:         cfg.DatabasePath,
		DatabaseURL:  cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabasePool,
		MaxIdleConns: cfg.DatabasePool / 2,
	})
}

func loadPricingTable(cfg *config.Config) (*pricing.Table, error) {
	if cfg.PricingConfigPath == "" {
		return pricing.Default(), nil
	}
	table, err := pricing.LoadFile(cfg.PricingConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing config: %w", err)
	}
	return table, nil
}

func newAuditLogger(cfg *config.Config) (*audit.Logger, error) {
	if !cfg.AuditEnabled || cfg.AuditLogFile == "" {
		return nil, nil
	}
	return audit.NewLogger(audit.LoggerConfig{
		FilePath:  cfg.AuditLogFile,
		CreateDir: cfg.AuditCreateDir,
	})
}

func newPublisher(cfg *config.Config, logger *zap.Logger) eventbus.Publisher {
	switch cfg.EventBusBackend {
	case "redis":
		return eventbus.NewRedisStreamsPublisher(eventbus.RedisStreamsConfig{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Stream: cfg.RedisStream,
		}, logger)
	case "in-memory":
		return eventbus.NewInMemoryEventBus(cfg.EventBusBuffer)
	default:
		return eventbus.NopPublisher{}
	}
}

// services bundles everything a CLI command needs against a live database.
type services struct {
	cfg    *config.Config
	db     *database.DB
	keys   *apikey.Service
	usage  *usage.Service
	logger *zap.Logger
	audit  *audit.Logger
}

func (s *services) close() {
	if s.audit != nil {
		_ = s.audit.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

func buildServices() (*services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	cipher, err := encryption.NewCipherFromHexKey(cfg.EncryptionSecret)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	auditLogger, err := newAuditLogger(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	table, err := loadPricingTable(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &services{
		cfg:    cfg,
		db:     db,
		keys:   apikey.NewService(db, db, cipher, auditLogger, logger),
		usage:  usage.NewService(db, table, newPublisher(cfg, logger), logger),
		logger: logger,
		audit:  auditLogger,
	}, nil
}
