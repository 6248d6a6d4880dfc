package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"assetscope/internal/domain"
)

// GetDevice fetches one record by id, nil when absent.
func (s *Store) GetDevice(ctx context.Context, id string) (*domain.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial_number, board_serial, hostname, ip, attrs, first_seen, last_seen
		FROM devices WHERE id = ?`, id)

	record, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadMACs(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ListDevices returns every record ordered by first_seen.
func (s *Store) ListDevices(ctx context.Context) ([]domain.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_number, board_serial, hostname, ip, attrs, first_seen, last_seen
		FROM devices ORDER BY first_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	return s.collectDevices(ctx, rows)
}

// LookupCandidates returns devices matching any populated identity key,
// through the indexed columns and the MAC side table. The candidate set is
// deduplicated and ordered by id for determinism.
func (s *Store) LookupCandidates(ctx context.Context, keys domain.IdentityKeys) ([]domain.DeviceRecord, error) {
	var clauses []string
	var args []any

	if keys.SerialNumber != "" {
		clauses = append(clauses, "serial_number = ?")
		args = append(args, keys.SerialNumber)
	}
	if keys.BoardSerial != "" {
		clauses = append(clauses, "board_serial = ?")
		args = append(args, keys.BoardSerial)
	}
	if keys.Hostname != "" {
		clauses = append(clauses, "hostname = ? COLLATE NOCASE")
		args = append(args, keys.Hostname)
	}
	if keys.IP != "" {
		clauses = append(clauses, "ip = ?")
		args = append(args, keys.IP)
	}
	if len(keys.MACs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys.MACs)), ",")
		clauses = append(clauses,
			fmt.Sprintf("id IN (SELECT device_id FROM device_macs WHERE mac IN (%s))", placeholders))
		for _, mac := range keys.MACs {
			args = append(args, strings.ToUpper(mac))
		}
	}

	if len(clauses) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, serial_number, board_serial, hostname, ip, attrs, first_seen, last_seen
		FROM devices WHERE %s ORDER BY id`, strings.Join(clauses, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup candidates: %w", err)
	}
	defer rows.Close()

	return s.collectDevices(ctx, rows)
}

// AuditTrail returns a device's change history, oldest first.
func (s *Store) AuditTrail(ctx context.Context, deviceID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, field, old_value, new_value, pass_id, created_at
		FROM audit_entries WHERE device_id = ? ORDER BY id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var at time.Time
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Field, &e.OldValue, &e.NewValue, &e.PassID, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.At = at
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PendingReviews returns unresolved review entries, oldest first.
func (s *Store) PendingReviews(ctx context.Context) ([]domain.ReviewEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pass_id, fingerprint, candidates, conflicts, resolved, created_at
		FROM review_queue WHERE resolved = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query review queue: %w", err)
	}
	defer rows.Close()

	var entries []domain.ReviewEntry
	for rows.Next() {
		var e domain.ReviewEntry
		var fp, candidates []byte
		var conflicts sql.NullString
		var resolved int
		var created time.Time
		if err := rows.Scan(&e.ID, &e.PassID, &fp, &candidates, &conflicts, &resolved, &created); err != nil {
			return nil, fmt.Errorf("scan review entry: %w", err)
		}
		if err := json.Unmarshal(fp, &e.Fingerprint); err != nil {
			return nil, fmt.Errorf("unmarshal fingerprint: %w", err)
		}
		if err := json.Unmarshal(candidates, &e.Candidates); err != nil {
			return nil, fmt.Errorf("unmarshal candidates: %w", err)
		}
		if conflicts.Valid && conflicts.String != "" && conflicts.String != "null" {
			if err := json.Unmarshal([]byte(conflicts.String), &e.Conflicts); err != nil {
				return nil, fmt.Errorf("unmarshal conflicts: %w", err)
			}
		}
		e.Resolved = resolved != 0
		e.CreatedAt = created.Format(time.RFC3339)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ResolveReview marks a review entry handled.
func (s *Store) ResolveReview(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE review_queue SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve review: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("review entry %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.DeviceRecord, error) {
	var (
		record                      domain.DeviceRecord
		serial, board, hostname, ip sql.NullString
		attrs                       []byte
		firstSeen, lastSeen         time.Time
	)
	if err := row.Scan(&record.ID, &serial, &board, &hostname, &ip, &attrs, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attrs, &record.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	record.Keys.SerialNumber = serial.String
	record.Keys.BoardSerial = board.String
	record.Keys.Hostname = hostname.String
	record.Keys.IP = ip.String
	record.FirstSeen = firstSeen
	record.LastSeen = lastSeen
	return &record, nil
}

func (s *Store) collectDevices(ctx context.Context, rows *sql.Rows) ([]domain.DeviceRecord, error) {
	var records []domain.DeviceRecord
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if err := s.loadMACs(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Store) loadMACs(ctx context.Context, record *domain.DeviceRecord) error {
	rows, err := s.db.QueryContext(ctx, `SELECT mac FROM device_macs WHERE device_id = ?`, record.ID)
	if err != nil {
		return fmt.Errorf("query macs: %w", err)
	}
	defer rows.Close()

	record.Keys.MACs = nil
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			return fmt.Errorf("scan mac: %w", err)
		}
		record.Keys.MACs = append(record.Keys.MACs, mac)
	}
	sort.Strings(record.Keys.MACs)
	return rows.Err()
}
