package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
)

// EnsureSchema creates the service tables directly from the bun models.
// The standalone payment service uses this instead of the versioned
// migrations so it can start against an empty database.
func EnsureSchema(ctx context.Context, db *bun.DB, log *logger.Logger) error {
	tables := []struct {
		name  string
		model interface{}
	}{
		{"users", (*models.User)(nil)},
		{"orders", (*models.Order)(nil)},
		{"payment_transactions", (*models.PaymentTransaction)(nil)},
	}

	for _, table := range tables {
		_, err := db.NewCreateTable().
			Model(table.model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table %s: %w", table.name, err)
		}
		log.LogDatabase("CREATE", table.name, "table ready")
	}

	return nil
}
