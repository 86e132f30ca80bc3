// Package catalog is a SQLite-backed store for time-series records,
// partitioned by (data type, instrument). Each partition holds one or
// more segments with a closed timestamp range; ordered write modes
// enforce a no-overlap invariant, and consolidation merges segments
// while refusing to merge overlapping ranges.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/glebarez/go-sqlite"

	"marketcore/pkg/quant"
)

// WriteMode controls where a batch lands relative to existing data.
type WriteMode uint8

const (
	// Append extends the newest segment; the batch must start after
	// the partition's last timestamp.
	Append WriteMode = iota + 1
	// Prepend extends the oldest segment; the batch must end before
	// the partition's first timestamp.
	Prepend
	// NewFile always creates a fresh segment with no overlap check.
	// Overlaps surface later, when consolidation is attempted.
	NewFile
)

func (m WriteMode) String() string {
	switch m {
	case Append:
		return "APPEND"
	case Prepend:
		return "PREPEND"
	case NewFile:
		return "NEWFILE"
	default:
		return "UNKNOWN"
	}
}

// Record is one stored row: an event timestamp plus an opaque payload.
type Record struct {
	TsInit  quant.UnixNanos
	Payload []byte
}

// OverlapError reports a timestamp-range conflict, either at ordered
// write time or during consolidation.
type OverlapError struct {
	DataType     string
	InstrumentID string
	Detail       string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("catalog overlap for %s/%s: %s", e.DataType, e.InstrumentID, e.Detail)
}

// Catalog owns the SQLite database holding all partitions.
type Catalog struct {
	db *sql.DB
}

// Open creates or opens a catalog database with WAL mode enabled.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data_type TEXT NOT NULL,
			instrument_id TEXT NOT NULL,
			ts_min INTEGER NOT NULL,
			ts_max INTEGER NOT NULL,
			record_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_segments_partition
			ON segments (data_type, instrument_id);`,
		`CREATE TABLE IF NOT EXISTS records (
			segment_id INTEGER NOT NULL REFERENCES segments(id) ON DELETE CASCADE,
			ts_init INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_segment_ts
			ON records (segment_id, ts_init);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create catalog schema: %w", err)
		}
	}

	return &Catalog{db: db}, nil
}

// Write stores a batch into the partition under the given mode. The
// batch must be non-empty and sorted ascending by timestamp.
func (c *Catalog) Write(ctx context.Context, dataType, instrumentID string, records []Record, mode WriteMode) error {
	if len(records) == 0 {
		return fmt.Errorf("catalog: empty batch for %s/%s", dataType, instrumentID)
	}
	for i := 1; i < len(records); i++ {
		if records[i].TsInit < records[i-1].TsInit {
			return fmt.Errorf("catalog: batch for %s/%s not sorted at index %d", dataType, instrumentID, i)
		}
	}
	batchMin := records[0].TsInit
	batchMax := records[len(records)-1].TsInit

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	var segmentID int64
	switch mode {
	case Append:
		segmentID, err = c.appendSegment(ctx, tx, dataType, instrumentID, batchMin, batchMax)
	case Prepend:
		segmentID, err = c.prependSegment(ctx, tx, dataType, instrumentID, batchMin, batchMax)
	case NewFile:
		segmentID, err = insertSegment(ctx, tx, dataType, instrumentID, batchMin, batchMax, 0)
	default:
		err = fmt.Errorf("catalog: unhandled write mode %d", mode)
	}
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (segment_id, ts_init, payload) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, segmentID, int64(r.TsInit), r.Payload); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE segments SET record_count = record_count + ? WHERE id = ?",
		len(records), segmentID)
	if err != nil {
		return fmt.Errorf("failed to update segment count: %w", err)
	}
	return tx.Commit()
}

func (c *Catalog) appendSegment(ctx context.Context, tx *sql.Tx, dataType, instrumentID string,
	batchMin, batchMax quant.UnixNanos) (int64, error) {
	id, tsMax, ok, err := latestSegment(ctx, tx, dataType, instrumentID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return insertSegment(ctx, tx, dataType, instrumentID, batchMin, batchMax, 0)
	}
	if batchMin <= tsMax {
		return 0, &OverlapError{
			DataType:     dataType,
			InstrumentID: instrumentID,
			Detail:       fmt.Sprintf("APPEND batch starts at %d, partition already ends at %d", batchMin, tsMax),
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE segments SET ts_max = ? WHERE id = ?", int64(batchMax), id); err != nil {
		return 0, fmt.Errorf("failed to extend segment: %w", err)
	}
	return id, nil
}

func (c *Catalog) prependSegment(ctx context.Context, tx *sql.Tx, dataType, instrumentID string,
	batchMin, batchMax quant.UnixNanos) (int64, error) {
	id, tsMin, ok, err := earliestSegment(ctx, tx, dataType, instrumentID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return insertSegment(ctx, tx, dataType, instrumentID, batchMin, batchMax, 0)
	}
	if batchMax >= tsMin {
		return 0, &OverlapError{
			DataType:     dataType,
			InstrumentID: instrumentID,
			Detail:       fmt.Sprintf("PREPEND batch ends at %d, partition already starts at %d", batchMax, tsMin),
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE segments SET ts_min = ? WHERE id = ?", int64(batchMin), id); err != nil {
		return 0, fmt.Errorf("failed to extend segment: %w", err)
	}
	return id, nil
}

// Consolidate merges every segment of the partition into one. Segments
// with overlapping timestamp ranges make the merge ambiguous and are
// rejected; deduplication is never silent.
func (c *Catalog) Consolidate(ctx context.Context, dataType, instrumentID string) error {
	type segment struct {
		id    int64
		tsMin int64
		tsMax int64
		count int64
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT id, ts_min, ts_max, record_count FROM segments WHERE data_type = ? AND instrument_id = ?",
		dataType, instrumentID)
	if err != nil {
		return fmt.Errorf("failed to query segments: %w", err)
	}
	var segments []segment
	for rows.Next() {
		var s segment
		if err := rows.Scan(&s.id, &s.tsMin, &s.tsMax, &s.count); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("segment iteration error: %w", err)
	}
	if len(segments) <= 1 {
		return nil
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].tsMin < segments[j].tsMin })
	for i := 1; i < len(segments); i++ {
		if segments[i].tsMin <= segments[i-1].tsMax {
			return &OverlapError{
				DataType:     dataType,
				InstrumentID: instrumentID,
				Detail: fmt.Sprintf("segment [%d, %d] overlaps segment [%d, %d]",
					segments[i].tsMin, segments[i].tsMax, segments[i-1].tsMin, segments[i-1].tsMax),
			}
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin consolidate: %w", err)
	}
	defer tx.Rollback()

	total := int64(0)
	for _, s := range segments {
		total += s.count
	}
	target := segments[0]
	for _, s := range segments[1:] {
		if _, err := tx.ExecContext(ctx, "UPDATE records SET segment_id = ? WHERE segment_id = ?", target.id, s.id); err != nil {
			return fmt.Errorf("failed to move records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE id = ?", s.id); err != nil {
			return fmt.Errorf("failed to drop segment: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE segments SET ts_min = ?, ts_max = ?, record_count = ? WHERE id = ?",
		segments[0].tsMin, segments[len(segments)-1].tsMax, total, target.id)
	if err != nil {
		return fmt.Errorf("failed to update merged segment: %w", err)
	}
	return tx.Commit()
}

// FirstTimestamp returns the earliest record timestamp in the
// partition. ok is false for an empty partition.
func (c *Catalog) FirstTimestamp(ctx context.Context, dataType, instrumentID string) (quant.UnixNanos, bool, error) {
	return c.boundary(ctx, "MIN(ts_min)", dataType, instrumentID)
}

// LastTimestamp returns the latest record timestamp in the partition.
func (c *Catalog) LastTimestamp(ctx context.Context, dataType, instrumentID string) (quant.UnixNanos, bool, error) {
	return c.boundary(ctx, "MAX(ts_max)", dataType, instrumentID)
}

// FileCount returns the number of segments in the partition.
func (c *Catalog) FileCount(ctx context.Context, dataType, instrumentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM segments WHERE data_type = ? AND instrument_id = ?",
		dataType, instrumentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count segments: %w", err)
	}
	return n, nil
}

// ReadRange returns every record with start <= ts <= end, ascending.
func (c *Catalog) ReadRange(ctx context.Context, dataType, instrumentID string,
	start, end quant.UnixNanos) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.ts_init, r.payload FROM records r
		JOIN segments s ON r.segment_id = s.id
		WHERE s.data_type = ? AND s.instrument_id = ? AND r.ts_init BETWEEN ? AND ?
		ORDER BY r.ts_init ASC`,
		dataType, instrumentID, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var ts int64
		var payload []byte
		if err := rows.Scan(&ts, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, Record{TsInit: quant.UnixNanos(ts), Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record iteration error: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) boundary(ctx context.Context, expr, dataType, instrumentID string) (quant.UnixNanos, bool, error) {
	var v sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		"SELECT "+expr+" FROM segments WHERE data_type = ? AND instrument_id = ?",
		dataType, instrumentID).Scan(&v)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query partition boundary: %w", err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return quant.UnixNanos(v.Int64), true, nil
}

// latestSegment returns the segment holding the partition's newest
// range, with the partition's overall maximum timestamp.
func latestSegment(ctx context.Context, tx *sql.Tx, dataType, instrumentID string) (int64, quant.UnixNanos, bool, error) {
	var id int64
	var tsMax int64
	err := tx.QueryRowContext(ctx,
		"SELECT id, ts_max FROM segments WHERE data_type = ? AND instrument_id = ? ORDER BY ts_max DESC LIMIT 1",
		dataType, instrumentID).Scan(&id, &tsMax)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to find latest segment: %w", err)
	}
	return id, quant.UnixNanos(tsMax), true, nil
}

func earliestSegment(ctx context.Context, tx *sql.Tx, dataType, instrumentID string) (int64, quant.UnixNanos, bool, error) {
	var id int64
	var tsMin int64
	err := tx.QueryRowContext(ctx,
		"SELECT id, ts_min FROM segments WHERE data_type = ? AND instrument_id = ? ORDER BY ts_min ASC LIMIT 1",
		dataType, instrumentID).Scan(&id, &tsMin)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to find earliest segment: %w", err)
	}
	return id, quant.UnixNanos(tsMin), true, nil
}

func insertSegment(ctx context.Context, tx *sql.Tx, dataType, instrumentID string,
	tsMin, tsMax quant.UnixNanos, count int) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO segments (data_type, instrument_id, ts_min, ts_max, record_count) VALUES (?, ?, ?, ?, ?)",
		dataType, instrumentID, int64(tsMin), int64(tsMax), count)
	if err != nil {
		return 0, fmt.Errorf("failed to insert segment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read segment id: %w", err)
	}
	return id, nil
}
