package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"queuewatch/internal/dto"
	"queuewatch/internal/model"
)

const resultColumns = `r.id, r.filename, r.session_id, r.source, r.timestamp, r.filepath, r.filesize, r.object_count, r.frames`

// ResultRepository implements repository.ResultRepository for SQLite.
type ResultRepository struct {
	db *DB
}

// NewResultRepository creates a new SQLite result repository.
func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// storedTime normalises timestamps so that string comparison in SQL orders them.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Insert adds a new result record to the database.
func (r *ResultRepository) Insert(res *model.Result) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	frames := res.Frames
	if frames <= 0 {
		frames = 1
	}
	result, err := r.db.Conn().Exec(`
		INSERT INTO results (filename, session_id, source, timestamp, time_of_day, filepath, filesize, object_count, frames)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.Filename, res.SessionID, res.Source, storedTime(res.Timestamp), res.Timestamp.Local().Format("15:04:05"),
		res.FilePath, res.FileSize, res.ObjectCount, frames)
	if err != nil {
		return 0, fmt.Errorf("failed to insert result: %w", err)
	}

	return result.LastInsertId()
}

func scanResult(row interface{ Scan(...any) error }) (*model.Result, error) {
	var res model.Result
	if err := row.Scan(&res.ID, &res.Filename, &res.SessionID, &res.Source, &res.Timestamp,
		&res.FilePath, &res.FileSize, &res.ObjectCount, &res.Frames); err != nil {
		return nil, err
	}
	res.Timestamp = res.Timestamp.Local()
	return &res, nil
}

// GetByFilename retrieves a result by its filename.
func (r *ResultRepository) GetByFilename(filename string) (*model.Result, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	res, err := scanResult(r.db.Conn().QueryRow(`SELECT `+resultColumns+` FROM results r WHERE r.filename = ?`, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// filterClause builds the WHERE conditions shared by GetAll and GetTotalCount.
// Dates are local calendar days; times compare the local "15:04" of the result.
func filterClause(filter *dto.ResultFilters) (string, []any) {
	if filter == nil {
		return "", nil
	}
	query := ""
	args := []any{}

	if filter.Source != "" {
		query += " AND r.source = ?"
		args = append(args, filter.Source)
	}

	if filter.SessionID != "" {
		query += " AND r.session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.Label != "" {
		query += " AND EXISTS (SELECT 1 FROM detections d WHERE d.result_id = r.id AND d.label = ?)"
		args = append(args, filter.Label)
	}

	if !filter.DateAfter.IsZero() {
		d := filter.DateAfter.Local()
		start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.Local)
		query += " AND r.timestamp >= ?"
		args = append(args, storedTime(start))
	}

	if !filter.DateBefore.IsZero() {
		d := filter.DateBefore.Local()
		end := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, time.Local)
		query += " AND r.timestamp < ?"
		args = append(args, storedTime(end))
	}

	if filter.TimeAfter != "" {
		query += " AND substr(r.time_of_day, 1, 5) >= ?"
		args = append(args, filter.TimeAfter)
	}

	if filter.TimeBefore != "" {
		query += " AND substr(r.time_of_day, 1, 5) <= ?"
		args = append(args, filter.TimeBefore)
	}

	return query, args
}

// GetAll retrieves results based on filter criteria, newest first.
func (r *ResultRepository) GetAll(filter *dto.ResultFilters) ([]model.Result, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + resultColumns + ` FROM results r WHERE 1=1` + where + ` ORDER BY r.timestamp DESC, r.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *res)
	}

	return results, rows.Err()
}

// GetTotalCount returns the total count of results matching the filter.
func (r *ResultRepository) GetTotalCount(filter *dto.ResultFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM results r WHERE 1=1`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}

	return count, nil
}

// GetTotalSize returns the summed file size of all archived results.
func (r *ResultRepository) GetTotalSize() (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var size int64
	if err := r.db.Conn().QueryRow(`SELECT COALESCE(SUM(filesize), 0) FROM results`).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to sum result sizes: %w", err)
	}
	return size, nil
}

// GetOldest returns up to limit results, oldest first.
func (r *ResultRepository) GetOldest(limit int) ([]model.Result, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT `+resultColumns+` FROM results r ORDER BY r.timestamp ASC, r.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

// Exists checks if a result with the given filename exists.
func (r *ResultRepository) Exists(filename string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM results WHERE filename = ?`, filename).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check result existence: %w", err)
	}
	return count > 0, nil
}

// GetStats returns statistics about archived results.
func (r *ResultRepository) GetStats() (*model.ResultStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.ResultStats{
		PerSource:   make(map[string]int),
		LabelCounts: make(map[string]int),
	}

	if err := r.db.Conn().QueryRow(`SELECT COUNT(*), COALESCE(SUM(filesize), 0) FROM results`).
		Scan(&stats.TotalResults, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	rows, err := r.db.Conn().Query(`SELECT source, COUNT(*) FROM results GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		stats.PerSource[source] = count
	}

	// Most detected labels
	labelRows, err := r.db.Conn().Query(`
		SELECT label, COUNT(*) as cnt
		FROM detections
		GROUP BY label
		ORDER BY cnt DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer labelRows.Close()

	for labelRows.Next() {
		var label string
		var count int
		if err := labelRows.Scan(&label, &count); err != nil {
			return nil, err
		}
		stats.LabelCounts[label] = count
	}

	return stats, nil
}

// Delete removes a result and its detections by ID.
func (r *ResultRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM detections WHERE result_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM results WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return tx.Commit()
}

// DeleteAll removes all results and their detections.
func (r *ResultRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM results`); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}

	return nil
}
