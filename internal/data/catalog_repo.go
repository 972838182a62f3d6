package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"instockbackend/internal/inventory"
	"instockbackend/internal/logger"
)

// =============================================================================
// CATALOG REPOSITORY
// =============================================================================

// CatalogRepository persists items, stores and stock relations. The in-memory
// inventory.Index is rebuilt from it on startup.
type CatalogRepository struct{}

func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{}
}

// =============================================================================
// ITEMS AND STORES
// =============================================================================

func (r *CatalogRepository) InsertItem(ctx context.Context, item inventory.Item) error {
	const stmt = `
		INSERT INTO items (id, name, description, barcode, units, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := ExecDB(ctx, stmt,
		item.ID, strings.TrimSpace(item.Name), item.Description, item.Barcode, item.Units,
		formatTime(time.Now()),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateItem, item.Name)
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// Upserts update in place. INSERT OR REPLACE would delete the old row first
// and cascade that delete into stock and subscriptions.
const (
	upsertItemStmt = `
	INSERT INTO items (id, name, description, barcode, units, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name, description = excluded.description,
		barcode = excluded.barcode, units = excluded.units`

	upsertStoreStmt = `
	INSERT INTO stores (id, name, address, city, province, lat, lng, place_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name, address = excluded.address, city = excluded.city,
		province = excluded.province, lat = excluded.lat, lng = excluded.lng,
		place_id = excluded.place_id`
)

// UpsertStore inserts a store or replaces its metadata.
func (r *CatalogRepository) UpsertStore(ctx context.Context, store inventory.Store) error {
	_, err := ExecDB(ctx, upsertStoreStmt,
		store.ID, store.Name, store.Address, store.City, store.Province,
		store.Lat, store.Lng, store.PlaceID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert store: %w", err)
	}
	return nil
}

// DeleteItems removes items and returns how many existed. Their stock and
// subscriptions go with them through the foreign keys.
func (r *CatalogRepository) DeleteItems(ctx context.Context, itemIDs []string) (int, error) {
	removed := 0
	err := InTx(ctx, func(tx *sql.Tx) error {
		for _, itemID := range itemIDs {
			result, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID)
			if err != nil {
				return fmt.Errorf("failed to delete item %s: %w", itemID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			removed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// DeleteStore removes a store with its stock and subscriptions. It reports
// whether the store existed.
func (r *CatalogRepository) DeleteStore(ctx context.Context, storeID string) (bool, error) {
	result, err := ExecDB(ctx, `DELETE FROM stores WHERE id = ?`, storeID)
	if err != nil {
		return false, fmt.Errorf("failed to delete store: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// STOCK RELATIONS
// =============================================================================

const upsertStockStmt = `
	INSERT INTO stock (item_id, store_id, quantity, price, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(item_id, store_id) DO UPDATE SET
		quantity = excluded.quantity, price = excluded.price, updated_at = excluded.updated_at`

// UpsertStock creates or replaces a relation. Unknown item or store IDs are
// rejected by the foreign keys.
func (r *CatalogRepository) UpsertStock(ctx context.Context, stock inventory.Stock) error {
	_, err := ExecDB(ctx, upsertStockStmt,
		stock.ItemID, stock.StoreID, stock.Quantity, stock.Price.String(), formatTime(time.Now()),
	)
	if err != nil {
		if isConstraintError(err) {
			return r.missingStockTarget(ctx, stock, err)
		}
		return fmt.Errorf("failed to upsert stock: %w", err)
	}
	return nil
}

// missingStockTarget names which side of a rejected relation does not exist.
func (r *CatalogRepository) missingStockTarget(ctx context.Context, stock inventory.Stock, cause error) error {
	dbConn, err := GetDB()
	if err != nil {
		return err
	}

	var itemExists, storeExists bool
	err = dbConn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE id = ?), EXISTS(SELECT 1 FROM stores WHERE id = ?)`,
		stock.ItemID, stock.StoreID,
	).Scan(&itemExists, &storeExists)
	switch {
	case err != nil:
		return fmt.Errorf("stock %s@%s rejected: %w", stock.ItemID, stock.StoreID, cause)
	case !itemExists:
		return fmt.Errorf("%w: %s", inventory.ErrUnknownItem, stock.ItemID)
	case !storeExists:
		return fmt.Errorf("%w: %s", inventory.ErrUnknownStore, stock.StoreID)
	default:
		return fmt.Errorf("stock %s@%s rejected: %w", stock.ItemID, stock.StoreID, cause)
	}
}

// UpdateStock changes quantity and price of an existing relation. It reports
// whether the relation existed.
func (r *CatalogRepository) UpdateStock(ctx context.Context, stock inventory.Stock) (bool, error) {
	const stmt = `
		UPDATE stock SET quantity = ?, price = ?, updated_at = ?
		WHERE item_id = ? AND store_id = ?`

	result, err := ExecDB(ctx, stmt,
		stock.Quantity, stock.Price.String(), formatTime(time.Now()), stock.ItemID, stock.StoreID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteStock removes the given items from a store and returns how many
// relations were removed.
func (r *CatalogRepository) DeleteStock(ctx context.Context, storeID string, itemIDs []string) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	removed := 0
	err := InTx(ctx, func(tx *sql.Tx) error {
		for _, itemID := range itemIDs {
			result, err := tx.ExecContext(ctx, `DELETE FROM stock WHERE store_id = ? AND item_id = ?`, storeID, itemID)
			if err != nil {
				return fmt.Errorf("failed to delete stock %s@%s: %w", itemID, storeID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			removed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

// IsEmpty reports whether no items have been stored yet.
func (r *CatalogRepository) IsEmpty(ctx context.Context) (bool, error) {
	dbConn, err := GetDB()
	if err != nil {
		return false, err
	}

	var count int
	if err := dbConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count items: %w", err)
	}
	return count == 0, nil
}

// ImportSeed writes a whole seed in one transaction.
func (r *CatalogRepository) ImportSeed(ctx context.Context, seed inventory.Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}

	now := formatTime(time.Now())
	return InTx(ctx, func(tx *sql.Tx) error {
		for _, item := range seed.Items {
			if _, err := tx.ExecContext(ctx,
				upsertItemStmt,
				item.ID, strings.TrimSpace(item.Name), item.Description, item.Barcode, item.Units, now,
			); err != nil {
				if isConstraintError(err) {
					return fmt.Errorf("%w: %s", inventory.ErrDuplicateItem, item.Name)
				}
				return fmt.Errorf("failed to import item %s: %w", item.ID, err)
			}
		}
		for _, store := range seed.Stores {
			if _, err := tx.ExecContext(ctx,
				upsertStoreStmt,
				store.ID, store.Name, store.Address, store.City, store.Province, store.Lat, store.Lng, store.PlaceID, now,
			); err != nil {
				return fmt.Errorf("failed to import store %s: %w", store.ID, err)
			}
		}
		for _, st := range seed.Stock {
			if _, err := tx.ExecContext(ctx, upsertStockStmt,
				st.ItemID, st.StoreID, st.Quantity, st.Price.String(), now,
			); err != nil {
				return fmt.Errorf("failed to import stock %s@%s: %w", st.ItemID, st.StoreID, err)
			}
		}
		logger.LogInfo("Imported seed: %d items, %d stores, %d relations", len(seed.Items), len(seed.Stores), len(seed.Stock))
		return nil
	})
}

// LoadCatalog reads every item, store and relation.
func (r *CatalogRepository) LoadCatalog(ctx context.Context) (inventory.Seed, error) {
	var seed inventory.Seed

	err := QueryEach(ctx, func(rows *sql.Rows) error {
		var item inventory.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Barcode, &item.Units); err != nil {
			return fmt.Errorf("failed to scan item: %w", err)
		}
		seed.Items = append(seed.Items, item)
		return nil
	}, `SELECT id, name, description, barcode, units FROM items ORDER BY id`)
	if err != nil {
		return inventory.Seed{}, err
	}

	err = QueryEach(ctx, func(rows *sql.Rows) error {
		var store inventory.Store
		if err := rows.Scan(&store.ID, &store.Name, &store.Address, &store.City, &store.Province,
			&store.Lat, &store.Lng, &store.PlaceID); err != nil {
			return fmt.Errorf("failed to scan store: %w", err)
		}
		seed.Stores = append(seed.Stores, store)
		return nil
	}, `SELECT id, name, address, city, province, lat, lng, place_id FROM stores ORDER BY id`)
	if err != nil {
		return inventory.Seed{}, err
	}

	err = QueryEach(ctx, func(rows *sql.Rows) error {
		var st inventory.Stock
		if err := rows.Scan(&st.ItemID, &st.StoreID, &st.Quantity, &st.Price); err != nil {
			return fmt.Errorf("failed to scan stock: %w", err)
		}
		seed.Stock = append(seed.Stock, st)
		return nil
	}, `SELECT item_id, store_id, quantity, price FROM stock ORDER BY item_id, store_id`)
	if err != nil {
		return inventory.Seed{}, err
	}

	return seed, nil
}

// LoadIndex replaces the index contents with the stored catalog.
func (r *CatalogRepository) LoadIndex(ctx context.Context, idx *inventory.Index) error {
	seed, err := r.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	if err := seed.Apply(idx); err != nil {
		return fmt.Errorf("failed to build index: %w", err)
	}
	stats := idx.Snapshot().Stats()
	logger.LogInfo("Loaded catalog: %d items, %d stores, %d relations", stats.Items, stats.Stores, stats.Relations)
	return nil
}
