package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/clubpay-backend/internal/clubs"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"github.com/angelmondragon/clubpay-backend/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "command: up|down|status|version|create|validate|provision|provision-all")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	clubID := flag.String("club", "", "club id for -cmd=provision")
	flag.Parse()

	// Commands that do not need config or a database.
	switch *cmd {
	case "create":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for create")
			os.Exit(1)
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)
	driver := dbClient.Driver()

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, driver, *dir, *cmd); err != nil {
			fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
			os.Exit(1)
		}

	case "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, driver, *dir, *version); err != nil {
			fmt.Fprintf(os.Stderr, "goose version migrate failed: %v\n", err)
			os.Exit(1)
		}

	case "provision", "provision-all":
		service, manager := clubService(ctx, logg, dbClient)
		if *cmd == "provision" {
			if *clubID == "" {
				fmt.Fprintln(os.Stderr, "missing -club for provision")
				os.Exit(1)
			}
			if _, err := service.Get(ctx, *clubID); err != nil {
				fmt.Fprintf(os.Stderr, "club lookup failed: %v\n", err)
				os.Exit(1)
			}
			if err := manager.Provision(ctx, *clubID); err != nil {
				fmt.Fprintf(os.Stderr, "provision failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("provisioned club:", *clubID)
			return
		}
		report, err := service.ProvisionAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "provision-all failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("provisioned %d clubs, %d failed\n", report.Provisioned, len(report.Failed))
		for id, err := range report.Failed {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", id, err)
		}
		if len(report.Failed) > 0 {
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func clubService(ctx context.Context, logg *logger.Logger, dbClient *db.Client) (*clubs.Service, *tenancy.Manager) {
	manager, err := tenancy.NewManager(dbClient, logg)
	requireResource(ctx, logg, "partition manager", err)
	service, err := clubs.NewService(clubs.NewRepository(dbClient.DB()), manager, logg)
	requireResource(ctx, logg, "club service", err)
	return service, manager
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
