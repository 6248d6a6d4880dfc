// Package sqlite implements the device store on SQLite. Identity keys are
// kept both inside the JSON attribute blob and as indexed columns (plus a
// MAC side table) so candidate lookup never scans the device table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"assetscope/internal/domain"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB

	// locks serialize upserts per device id (striped by hash). Different
	// devices proceed in parallel; the same device never races itself.
	locks [64]sync.Mutex

	// insertMu serializes inserts so two workers observing the same new
	// device in one pass cannot both create a record for it.
	insertMu sync.Mutex
}

// New opens (and migrates) the store at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		serial_number TEXT,
		board_serial TEXT,
		hostname TEXT,
		ip TEXT,
		attrs JSON NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_macs (
		device_id TEXT NOT NULL,
		mac TEXT NOT NULL,
		PRIMARY KEY (device_id, mac),
		FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		pass_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS review_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pass_id TEXT NOT NULL,
		fingerprint JSON NOT NULL,
		candidates JSON NOT NULL,
		conflicts JSON,
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_devices_serial ON devices(serial_number);
	CREATE INDEX IF NOT EXISTS idx_devices_board_serial ON devices(board_serial);
	CREATE INDEX IF NOT EXISTS idx_devices_hostname ON devices(hostname);
	CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip);
	CREATE INDEX IF NOT EXISTS idx_device_macs_mac ON device_macs(mac);
	CREATE INDEX IF NOT EXISTS idx_audit_device ON audit_entries(device_id);
	CREATE INDEX IF NOT EXISTS idx_review_unresolved ON review_queue(resolved);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// Upsert applies one resolution action transactionally.
func (s *Store) Upsert(ctx context.Context, action domain.ResolutionAction) (string, error) {
	switch action.Kind {
	case domain.ActionInsert:
		return s.insert(ctx, action)
	case domain.ActionUpdateExisting, domain.ActionMergeKeepNewest, domain.ActionMergeKeepOldest:
		return s.applyDiff(ctx, action)
	case domain.ActionFlagForReview:
		return "", s.flagForReview(ctx, action)
	default:
		return "", fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// insert creates a new device record. Under insertMu it re-checks the
// identity indexes first: when a second worker raced us here with the same
// physical device, the insert degrades to an update of the winner's record
// instead of a duplicate row.
func (s *Store) insert(ctx context.Context, action domain.ResolutionAction) (string, error) {
	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	if existing, err := s.LookupCandidates(ctx, action.Fingerprint.Keys); err != nil {
		return "", err
	} else if winner := exactKeyMatch(action.Fingerprint.Keys, existing); winner != nil {
		merge := action
		merge.Kind = domain.ActionMergeKeepNewest
		merge.DeviceID = winner.ID
		merge.Diff = refillDiff(action.Fingerprint, winner)
		return s.applyDiff(ctx, merge)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	attrs, err := json.Marshal(action.Fingerprint.Attributes)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	keys := action.Fingerprint.Keys
	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (id, serial_number, board_serial, hostname, ip, attrs, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(keys.SerialNumber), nullable(keys.BoardSerial),
		nullable(keys.Hostname), nullable(keys.IP), attrs, now, now)
	if err != nil {
		return "", fmt.Errorf("insert device: %w", err)
	}

	for _, mac := range keys.MACs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO device_macs (device_id, mac) VALUES (?, ?)`,
			id, strings.ToUpper(mac)); err != nil {
			return "", fmt.Errorf("insert mac: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// applyDiff mutates an existing record under its per-device lock, writing
// one audit entry per changed field.
func (s *Store) applyDiff(ctx context.Context, action domain.ResolutionAction) (string, error) {
	if action.DeviceID == "" {
		return "", fmt.Errorf("action %s requires a device id", action.Kind)
	}

	lock := s.lockFor(action.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.GetDevice(ctx, action.DeviceID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("device %s not found", action.DeviceID)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	for _, diff := range action.Diff {
		oldVal, hasOld := record.Attr(diff.Field)

		// MergeKeepOldest only fills gaps; existing values win.
		if action.Kind == domain.ActionMergeKeepOldest && hasOld {
			continue
		}
		if hasOld && oldVal.Equal(diff.New) {
			continue
		}

		record.Attributes[diff.Field] = diff.New

		if hasOld {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO audit_entries (device_id, field, old_value, new_value, pass_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				record.ID, diff.Field, oldVal.Display(), diff.New.Display(), action.PassID, now); err != nil {
				return "", fmt.Errorf("append audit: %w", err)
			}
		}
	}

	keys := refreshKeys(record, action.Fingerprint.Keys)
	record.Keys = keys

	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE devices SET serial_number = ?, board_serial = ?, hostname = ?, ip = ?, attrs = ?, last_seen = ?
		WHERE id = ?`,
		nullable(keys.SerialNumber), nullable(keys.BoardSerial),
		nullable(keys.Hostname), nullable(keys.IP), attrs, now, record.ID)
	if err != nil {
		return "", fmt.Errorf("update device: %w", err)
	}

	for _, mac := range keys.MACs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO device_macs (device_id, mac) VALUES (?, ?)`,
			record.ID, strings.ToUpper(mac)); err != nil {
			return "", fmt.Errorf("insert mac: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return record.ID, nil
}

// flagForReview persists the ambiguous match for manual inspection. No
// device row is touched.
func (s *Store) flagForReview(ctx context.Context, action domain.ResolutionAction) error {
	fp, err := json.Marshal(action.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	candidates, err := json.Marshal(action.Match.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	conflicts, err := json.Marshal(action.Match.Conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_queue (pass_id, fingerprint, candidates, conflicts)
		VALUES (?, ?, ?, ?)`,
		action.PassID, fp, candidates, conflicts)
	if err != nil {
		return fmt.Errorf("insert review entry: %w", err)
	}
	return nil
}

// Remove deletes a device and appends a final audit entry recording why.
func (s *Store) Remove(ctx context.Context, deviceID, reason, passID string) error {
	lock := s.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("device %s not found", deviceID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (device_id, field, old_value, new_value, pass_id, created_at)
		VALUES (?, 'removed', ?, '', ?, ?)`,
		deviceID, reason, passID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append removal audit: %w", err)
	}

	return tx.Commit()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// exactKeyMatch returns the first candidate sharing a hard identity key
// (serial, board serial, or MAC) with the given keys.
func exactKeyMatch(keys domain.IdentityKeys, candidates []domain.DeviceRecord) *domain.DeviceRecord {
	for i := range candidates {
		c := &candidates[i]
		if keys.SerialNumber != "" && keys.SerialNumber == c.Keys.SerialNumber {
			return c
		}
		if keys.BoardSerial != "" && keys.BoardSerial == c.Keys.BoardSerial {
			return c
		}
		if keys.SharesMAC(c.Keys) {
			return c
		}
	}
	return nil
}

// refillDiff rebuilds a fill/replace diff against the actual winner of an
// insert race.
func refillDiff(fp domain.Fingerprint, record *domain.DeviceRecord) []domain.FieldDiff {
	var diff []domain.FieldDiff
	for field, newVal := range fp.Attributes {
		if newVal.IsZero() {
			continue
		}
		oldVal, ok := record.Attr(field)
		if !ok {
			diff = append(diff, domain.FieldDiff{Field: field, New: newVal})
		} else if !oldVal.Equal(newVal) {
			diff = append(diff, domain.FieldDiff{Field: field, Old: oldVal, New: newVal})
		}
	}
	return diff
}

// refreshKeys overlays the fingerprint's identity keys onto the stored
// ones, keeping stored values where the fingerprint is silent.
func refreshKeys(record *domain.DeviceRecord, incoming domain.IdentityKeys) domain.IdentityKeys {
	keys := record.Keys
	if incoming.SerialNumber != "" {
		keys.SerialNumber = incoming.SerialNumber
	}
	if incoming.BoardSerial != "" {
		keys.BoardSerial = incoming.BoardSerial
	}
	if incoming.Hostname != "" {
		keys.Hostname = incoming.Hostname
	}
	if incoming.IP != "" {
		keys.IP = incoming.IP
	}
	if len(incoming.MACs) > 0 {
		merged := make(map[string]struct{})
		for _, mac := range keys.MACs {
			merged[strings.ToUpper(mac)] = struct{}{}
		}
		for _, mac := range incoming.MACs {
			merged[strings.ToUpper(mac)] = struct{}{}
		}
		keys.MACs = make([]string, 0, len(merged))
		for mac := range merged {
			keys.MACs = append(keys.MACs, mac)
		}
		sort.Strings(keys.MACs)
	}
	return keys
}
