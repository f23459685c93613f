package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/safar/autoshop-checkout/internal/config"
	"github.com/safar/autoshop-checkout/internal/database"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadDatabase()
	ctx := context.Background()

	db, err := database.Open(ctx, &cfg, logger)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDir := "migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		logger.Fatal("read migration directory", zap.Error(err))
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), fmt.Sprintf(".%s.sql", direction)) {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)
	if direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(migrationFiles)))
	}

	for _, filename := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationDir, filename))
		if err != nil {
			logger.Fatal("read migration file", zap.String("file", filename), zap.Error(err))
		}

		logger.Info("running migration", zap.String("file", filename))
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("execute migration", zap.String("file", filename), zap.Error(err))
		}
	}

	logger.Info("migrations complete", zap.Int("count", len(migrationFiles)), zap.String("direction", direction))
}
