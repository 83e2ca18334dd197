package state

import (
	"time"
)

// ImportRecord is one row of the local import journal: a transaction the
// backend created from a message we submitted. The journal is for
// inspection and the control API; dedup decisions never read it.
type ImportRecord struct {
	ID          string
	UserID      string
	Amount      float64
	Category    string
	Description string
	TxnType     string
	RefID       string
	Source      string
	MessageTS   int64
	CreatedAt   int64
}

// RecordImport inserts a journal row (idempotent on the backend-assigned id).
func (db *DB) RecordImport(rec *ImportRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO imports (id, user_id, amount, category, description, txn_type, ref_id, source, message_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			txn_type = excluded.txn_type`,
		rec.ID, rec.UserID, rec.Amount, rec.Category, rec.Description, rec.TxnType, rec.RefID, rec.Source, rec.MessageTS, rec.CreatedAt)
	return err
}

// RecentImports returns the newest journal rows for a user, newest first.
func (db *DB) RecentImports(userID string, limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, user_id, amount, category, description, txn_type, ref_id, source, message_ts, created_at
		FROM imports
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []ImportRecord
	for rows.Next() {
		var r ImportRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Amount, &r.Category, &r.Description, &r.TxnType, &r.RefID, &r.Source, &r.MessageTS, &r.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// CountImports returns the total number of journal rows for a user.
func (db *DB) CountImports(userID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM imports WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
