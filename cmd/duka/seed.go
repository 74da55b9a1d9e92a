package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"gorm.io/gorm"

	"github.com/dukahq/duka/internal/commerce"
	"github.com/dukahq/duka/internal/config"
	pgstore "github.com/dukahq/duka/internal/storage/postgres"
	sqlitestore "github.com/dukahq/duka/internal/storage/sqlite"
)

var seedConfigPath string

// seedFile is the JSON document accepted by `duka seed`.
type seedFile struct {
	Products []commerce.Product        `json:"products"`
	Reviews  []commerce.ReviewsSummary `json:"reviews,omitempty"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.json>",
	Short: "Load a product catalog file into the configured database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runSeed(_ *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("DUKA_CONFIG", seedConfigPath))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading catalog file: %w", err)
	}
	var sf seedFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing catalog file: %w", err)
	}
	if len(sf.Products) == 0 {
		return fmt.Errorf("catalog file has no products")
	}

	store, err := initStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	var db *gorm.DB
	switch st := store.(type) {
	case *pgstore.Store:
		db = st.GormDB()
	case *sqlitestore.Store:
		db = st.GormDB()
	default:
		return fmt.Errorf("storage driver %q does not support seeding", store.Driver())
	}

	repo := pgstore.NewProductRepository(db)
	if err := repo.UpsertProducts(ctx, sf.Products); err != nil {
		return err
	}
	if err := repo.UpsertReviewSummaries(ctx, sf.Reviews); err != nil {
		return err
	}

	logger.Info("catalog seeded",
		slog.Int("products", len(sf.Products)),
		slog.Int("reviews", len(sf.Reviews)),
		slog.String("driver", store.Driver()),
	)
	return nil
}
