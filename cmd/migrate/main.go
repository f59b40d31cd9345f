package main

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-commerce/internal/config"
	"ms-commerce/internal/database/migrations"
	"ms-commerce/internal/logger"
)

func main() {
	up := flag.Bool("up", false, "apply every pending migration, including seed data")
	down := flag.Bool("down", false, "roll back all migrations")
	to := flag.Uint("to", 0, "migrate to an exact schema version")
	seed := flag.Bool("seed", false, "apply the schema plus dev seed data")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	runner := migrations.NewRunner(bunDB, log, migrations.Options{
		Dir:      cfg.Database.MigrationsPath,
		SeedData: *seed,
	})
	defer runner.Close()

	switch {
	case *down:
		err = runner.MigrateDown()
	case *to > 0:
		err = runner.MigrateTo(*to)
	case *up:
		err = runner.MigrateUp()
	default:
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}

	log.Info("DATABASE", "Migration complete")
}
