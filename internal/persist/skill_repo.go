package persist

import "context"

type PlayerSkillRow struct {
	SkillID    int64
	Level      int
	Experience int64
}

type SkillRepo struct {
	db *DB
}

func NewSkillRepo(db *DB) *SkillRepo {
	return &SkillRepo{db: db}
}

func (r *SkillRepo) Load(ctx context.Context, playerID int64) ([]PlayerSkillRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT skill_id, level, experience
		 FROM player_skills WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PlayerSkillRow
	for rows.Next() {
		var s PlayerSkillRow
		if err := rows.Scan(&s.SkillID, &s.Level, &s.Experience); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// Save upserts each skill row. Re-flushing the same snapshot is a no-op.
func (r *SkillRepo) Save(ctx context.Context, q Querier, playerID int64, skills []PlayerSkillRow) error {
	for _, s := range skills {
		if _, err := q.Exec(ctx,
			`INSERT INTO player_skills (player_id, skill_id, level, experience)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (player_id, skill_id)
			 DO UPDATE SET level = EXCLUDED.level, experience = EXCLUDED.experience`,
			playerID, s.SkillID, s.Level, s.Experience); err != nil {
			return err
		}
	}
	return nil
}
