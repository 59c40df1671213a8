package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/damoang/angple-messenger/internal/config"
	"github.com/damoang/angple-messenger/internal/database"
	"github.com/damoang/angple-messenger/internal/migration"
	pkglogger "github.com/damoang/angple-messenger/pkg/logger"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "configs/config.local.yaml", "config file path")
	importLegacy := flag.Bool("import-legacy", false, "copy g5_memo (쪽지) rows into dm_messages")
	dryRun := flag.Bool("dry-run", false, "show what would be imported without writing")
	batchSize := flag.Int("batch-size", 1000, "rows per import batch")
	verbose := flag.Bool("verbose", false, "verbose SQL logging")
	flag.Parse()

	config.LoadDotEnv()
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := gormlogger.Warn
	if *verbose {
		logLevel = gormlogger.Info
	}

	db, err := database.Open(cfg.Database, logLevel)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying DB: %v", err)
	}
	defer sqlDB.Close()

	if err := migration.Run(db); err != nil {
		log.Fatalf("Schema migration failed: %v", err)
	}
	log.Println("[migrate] schema up to date")

	if !*importLegacy {
		return
	}

	result, err := migration.ImportLegacyMemos(context.Background(), db, migration.ImportOptions{
		BatchSize: *batchSize,
		DryRun:    *dryRun,
	})
	if err != nil {
		log.Fatalf("Legacy import failed: %v", err)
	}
	prefix := "[migrate:messages]"
	if *dryRun {
		prefix = "[dry-run:messages]"
	}
	log.Printf("%s scanned=%d imported=%d skipped=%d already_imported=%d",
		prefix, result.Scanned, result.Imported, result.Skipped, result.Existing)
}
