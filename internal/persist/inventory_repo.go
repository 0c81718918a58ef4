package persist

import "context"

// InventorySlotRow is one occupied inventory slot. Durability is nil for
// items that do not degrade.
type InventorySlotRow struct {
	Slot       int
	ItemID     int64
	Quantity   int
	Durability *int
}

type InventoryRepo struct {
	db *DB
}

func NewInventoryRepo(db *DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// Load returns every occupied slot ordered by slot index.
func (r *InventoryRepo) Load(ctx context.Context, playerID int64) ([]InventorySlotRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT slot, item_id, quantity, current_durability
		 FROM player_inventory WHERE player_id = $1 ORDER BY slot`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []InventorySlotRow
	for rows.Next() {
		var s InventorySlotRow
		if err := rows.Scan(&s.Slot, &s.ItemID, &s.Quantity, &s.Durability); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Save replaces the whole inventory (delete + bulk insert). Run inside the
// caller's transaction so a failed player rolls back alone.
func (r *InventoryRepo) Save(ctx context.Context, q Querier, playerID int64, slots []InventorySlotRow) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM player_inventory WHERE player_id = $1`, playerID); err != nil {
		return err
	}
	for _, s := range slots {
		if _, err := q.Exec(ctx,
			`INSERT INTO player_inventory (player_id, slot, item_id, quantity, current_durability)
			 VALUES ($1, $2, $3, $4, $5)`,
			playerID, s.Slot, s.ItemID, s.Quantity, s.Durability); err != nil {
			return err
		}
	}
	return nil
}
