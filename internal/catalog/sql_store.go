package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations
var migrations embed.FS

// SQLStore implements Catalog over a relational products table.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, driver: driver}, nil
}

// RunMigrations applies the embedded schema for the store's driver.
func (s *SQLStore) RunMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch s.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	source, err := iofs.New(migrations, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, name, image_url, price, stock, is_active
		FROM products
		WHERE id = $1
	`

	p := &domain.Product{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.ImageURL,
		&p.Price,
		&p.Stock,
		&p.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (s *SQLStore) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	if err := checkQuantity(qty); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
		qty, id)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.GetProduct(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) RestoreStock(ctx context.Context, id string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $1 WHERE id = $2`,
		qty, id)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// Seed upserts products by id.
func (s *SQLStore) Seed(ctx context.Context, products []domain.Product) error {
	query := `
		INSERT INTO products (id, name, image_url, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			image_url = excluded.image_url,
			price = excluded.price,
			stock = excluded.stock,
			is_active = excluded.is_active
	`
	for _, p := range products {
		if _, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.ImageURL, p.Price, p.Stock, p.IsActive); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
