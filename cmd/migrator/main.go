package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

func main() {
	var dsn, migrationsPath, migrationsTable string
	var down bool

	_ = godotenv.Load()

	flag.StringVar(&dsn, "dsn", os.Getenv("STORAGE_DSN"), "postgres connection url, defaults to STORAGE_DSN")
	flag.StringVar(&migrationsPath, "migrations-path", "./migrations", "path to a directory containing migration files")
	flag.StringVar(&migrationsTable, "migrations-table", "migrations", "name of migrations table")
	flag.BoolVar(&down, "down", false, "roll every migration back instead of applying")
	flag.Parse()

	if dsn == "" {
		panic("dsn is required")
	}
	if migrationsPath == "" {
		panic("migrations-path is required")
	}

	target, err := url.Parse(dsn)
	if err != nil {
		panic(fmt.Errorf("malformed dsn: %w", err))
	}
	q := target.Query()
	q.Set("x-migrations-table", migrationsTable)
	target.RawQuery = q.Encode()

	m, err := migrate.New("file://"+migrationsPath, target.String())
	if err != nil {
		panic(err)
	}
	defer func() { _, _ = m.Close() }()

	apply := m.Up
	if down {
		apply = m.Down
	}
	if err := apply(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		panic(err)
	}
	fmt.Println("migrations completed successfully")
}
