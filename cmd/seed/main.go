package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const defaultTimeout = 60 * time.Second

func main() {
	var (
		file    string
		driver  string
		dsn     string
		migrate bool
	)

	flag.StringVar(&file, "file", "catalog.yaml", "path to YAML catalog")
	flag.StringVar(&driver, "driver", "postgres", "storage driver: postgres|memory (memory only validates the catalog)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: STOREFRONT_POSTGRES_DSN)")
	flag.BoolVar(&migrate, "migrate", false, "apply migrations before seeding")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "seed")

	f, err := os.Open(file)
	if err != nil {
		fail("open catalog: %v", err)
	}
	items, err := parseCatalog(f)
	_ = f.Close()
	if err != nil {
		fail("parse catalog: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	repo, closeFn, err := openRepository(ctx, driver, dsn, migrate)
	if err != nil {
		fail("%v", err)
	}
	defer closeFn()

	count, err := seedCatalog(ctx, repo, items, logger)
	if err != nil {
		fail("seed failed after %d products: %v", count, err)
	}
	logger.WithFields(log.Fields{"products": count, "driver": driver}).Info("каталог загружен")
}

func openRepository(ctx context.Context, driver, dsn string, migrate bool) (domain.ProductRepository, func(), error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "memory":
		return memory.NewProductRepository(memory.NewStore(memory.NewOutboxRepository())), func() {}, nil
	case "postgres":
		if strings.TrimSpace(dsn) == "" {
			dsn = strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_DSN"))
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("STOREFRONT_POSTGRES_DSN (or -dsn) is required")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		if migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		return postgres.NewProductRepository(store), func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver: %s (use postgres|memory)", driver)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
