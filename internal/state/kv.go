package state

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Persisted keys. The JSON-array keys are written through the dedup sets;
// the scalar keys have typed helpers below.
const (
	KeyImportedIDs  = "sms.imported_ids"
	KeyFingerprints = "sms.rt_fingerprints"
	KeyWatermark    = "sms.last_import_watermark"
	KeyAuthTrigger  = "sms.auth_trigger"
)

// GetKV returns the value for key, or "" when the key is absent.
func (db *DB) GetKV(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv %q: %w", key, err)
	}
	return value, nil
}

// PutKV upserts a key-value pair.
func (db *DB) PutKV(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("put kv %q: %w", key, err)
	}
	return nil
}

// DeleteKV removes a key. Deleting an absent key is not an error.
func (db *DB) DeleteKV(key string) error {
	if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete kv %q: %w", key, err)
	}
	return nil
}

// Watermark returns the last-import watermark in epoch millis, zero when
// no historical scan has completed yet.
func (db *DB) Watermark() (int64, error) {
	raw, err := db.GetKV(KeyWatermark)
	if err != nil || raw == "" {
		return 0, err
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A corrupt watermark degrades to "no watermark"; the next live
		// scan falls back to its short default window.
		return 0, nil
	}
	return ts, nil
}

// SetWatermark persists the last-import watermark.
func (db *DB) SetWatermark(ts int64) error {
	return db.PutKV(KeyWatermark, strconv.FormatInt(ts, 10))
}

// AuthTrigger returns the pending one-shot signup/login trigger, or ""
// when none is set.
func (db *DB) AuthTrigger() (string, error) {
	return db.GetKV(KeyAuthTrigger)
}

// SetAuthTrigger records a one-shot trigger ("signup" or "login") for the
// next bootstrap sync to consume.
func (db *DB) SetAuthTrigger(mode string) error {
	return db.PutKV(KeyAuthTrigger, mode)
}

// ClearAuthTrigger consumes the one-shot trigger.
func (db *DB) ClearAuthTrigger() error {
	return db.DeleteKV(KeyAuthTrigger)
}
