package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/autoshop-checkout/internal/database"
	"github.com/safar/autoshop-checkout/internal/models"
	"github.com/shopspring/decimal"
)

const inventoryColumns = `id, kind, name, price, inventory, sold, created_at, updated_at, version`

func scanInventoryItem(row rowScanner) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.Name,
		&item.Price,
		&item.Inventory,
		&item.Sold,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.Version,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func CreateInventoryItem(ctx context.Context, db Querier, kind models.ItemKind, name string, price decimal.Decimal, inventory int) (*models.InventoryItem, error) {
	query := `
		INSERT INTO inventory_items (id, kind, name, price, inventory, sold, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW(), 1)
		RETURNING ` + inventoryColumns

	item, err := scanInventoryItem(db.QueryRowContext(ctx, query, uuid.NewString(), kind, name, price, inventory))
	if err != nil {
		return nil, fmt.Errorf("create inventory item: %w", err)
	}

	return item, nil
}

func GetInventoryItem(ctx context.Context, db Querier, id string) (*models.InventoryItem, error) {
	if !validID(id) {
		return nil, database.ErrInventoryItemNotFound
	}

	query := `SELECT ` + inventoryColumns + ` FROM inventory_items WHERE id = $1`

	item, err := scanInventoryItem(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrInventoryItemNotFound
		}
		return nil, fmt.Errorf("get inventory item: %w", err)
	}

	return item, nil
}

// LockInventoryItem takes a row lock on one item for the rest of tx.
func LockInventoryItem(ctx context.Context, tx *sql.Tx, id string) (*models.InventoryItem, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory_items WHERE id = $1 FOR UPDATE`

	item, err := scanInventoryItem(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrInventoryItemNotFound
		}
		return nil, fmt.Errorf("lock inventory item %s: %w", id, err)
	}

	return item, nil
}

// DeductInventory moves qty units from inventory to sold. The update is
// conditional so a concurrent deduction can never drive inventory negative.
func DeductInventory(ctx context.Context, tx *sql.Tx, id string, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory_items
		 SET inventory = inventory - $1,
		     sold = sold + $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND inventory >= $1`,
		qty, id)
	if err != nil {
		return fmt.Errorf("deduct inventory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// RestoreInventory is the inverse of DeductInventory.
func RestoreInventory(ctx context.Context, tx *sql.Tx, id string, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory_items
		 SET inventory = inventory + $1,
		     sold = sold - $1,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $2
		   AND sold >= $1`,
		qty, id)
	if err != nil {
		return fmt.Errorf("restore inventory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("restore inventory %s: sold count below %d", id, qty)
	}

	return nil
}

// SetInventoryOptimistic overwrites the available count for an admin restock.
// It fails with ErrOptimisticLockFailed when version is stale.
func SetInventoryOptimistic(ctx context.Context, db Querier, id string, inventory int, version int) (*models.InventoryItem, error) {
	if !validID(id) {
		return nil, database.ErrInventoryItemNotFound
	}

	query := `
		UPDATE inventory_items
		SET inventory = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
		RETURNING ` + inventoryColumns

	item, err := scanInventoryItem(db.QueryRowContext(ctx, query, inventory, id, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := GetInventoryItem(ctx, db, id); getErr != nil {
				return nil, getErr
			}
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update inventory: %w", err)
	}

	return item, nil
}

func ListInventoryItems(ctx context.Context, db Querier, kind models.ItemKind, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_items WHERE ($1 = '' OR kind = $1)`,
		string(kind)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count inventory items: %w", err)
	}

	query := `
		SELECT ` + inventoryColumns + `
		FROM inventory_items
		WHERE ($1 = '' OR kind = $1)
		ORDER BY kind, name, id
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, string(kind), pageSize, pageOffset(page, pageSize))
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	defer rows.Close()

	items := []models.InventoryItem{}
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(items, total, page, pageSize), nil
}
