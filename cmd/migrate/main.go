package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/pkg/config"
	"github.com/noah-isme/school-portal-api/pkg/database"
	"github.com/noah-isme/school-portal-api/pkg/logger"
	"github.com/noah-isme/school-portal-api/scripts/migrations"
)

var errUsage = errors.New("usage: migrate <up|up-by-one|up-to VERSION|down|down-to VERSION|redo|reset|status|version>")

var gooseRun = goose.Run // mockable

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := migrate(db.DB, os.Args[1:]); err != nil {
		logr.Fatal("migration failed", zap.Strings("args", os.Args[1:]), zap.Error(err))
	}
	logr.Info("migration finished", zap.Strings("args", os.Args[1:]))
}

func migrate(db *sql.DB, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return gooseRun(args[0], db, ".", args[1:]...)
}
