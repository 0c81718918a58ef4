package persist

import "context"

// EquipmentSlotRow is one worn item keyed by its named equipment slot.
type EquipmentSlotRow struct {
	Slot       string
	ItemID     int64
	Quantity   int
	Durability *int
}

type EquipmentRepo struct {
	db *DB
}

func NewEquipmentRepo(db *DB) *EquipmentRepo {
	return &EquipmentRepo{db: db}
}

func (r *EquipmentRepo) Load(ctx context.Context, playerID int64) ([]EquipmentSlotRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT equipment_slot, item_id, quantity, current_durability
		 FROM player_equipment WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EquipmentSlotRow
	for rows.Next() {
		var s EquipmentSlotRow
		if err := rows.Scan(&s.Slot, &s.ItemID, &s.Quantity, &s.Durability); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Save replaces all worn items (delete + bulk insert), same shape as the
// inventory flush.
func (r *EquipmentRepo) Save(ctx context.Context, q Querier, playerID int64, slots []EquipmentSlotRow) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM player_equipment WHERE player_id = $1`, playerID); err != nil {
		return err
	}
	for _, s := range slots {
		if _, err := q.Exec(ctx,
			`INSERT INTO player_equipment (player_id, equipment_slot, item_id, quantity, current_durability)
			 VALUES ($1, $2, $3, $4, $5)`,
			playerID, s.Slot, s.ItemID, s.Quantity, s.Durability); err != nil {
			return err
		}
	}
	return nil
}
