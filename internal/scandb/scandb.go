// Package scandb persists the frame index: which ingest sessions ran and how
// complete each reassembled frame was. It stores bookkeeping, not point data;
// the planes themselves stay in memory and flow to downstream consumers.
package scandb

import (
	"database/sql"
	_ "embed"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/arc-sensors/spinscan/internal/scan"

	_ "modernc.org/sqlite"
)

type ScanDB struct {
	*sql.DB
}

// schema.sql contains the SQL statements for creating the scan database
// schema: ingest sessions and per-frame completeness rows.
//
//go:embed schema.sql
var schemaSQL string

func NewScanDB(path string) (*ScanDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schemaSQL)
	if err != nil {
		return nil, err
	}

	log.Println("initialized scan database schema")

	return &ScanDB{db}, nil
}

// Session identifies one ingest run of one sensor stream.
type Session struct {
	ID           string
	SensorSerial string
	UDPProfile   string
	Columns      int
	Pixels       int
	Source       string // "udp:<addr>" or "pcap:<file>"
	StartedAt    time.Time
}

// StartSession inserts a session row and returns it with a fresh id.
func (sdb *ScanDB) StartSession(md *scan.SensorMetadata, source string) (*Session, error) {
	s := &Session{
		ID:           uuid.NewString(),
		SensorSerial: md.SerialNumber,
		UDPProfile:   md.UDPProfile,
		Columns:      md.ColumnsPerFrame,
		Pixels:       md.PixelsPerColumn,
		Source:       source,
		StartedAt:    time.Now(),
	}
	stmt := `INSERT INTO scan_sessions (session_id, sensor_serial, udp_profile, columns_per_frame, pixels_per_column, source, started_unix_nanos)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := sdb.Exec(stmt, s.ID, s.SensorSerial, s.UDPProfile, s.Columns, s.Pixels, s.Source, s.StartedAt.UnixNano())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (sdb *ScanDB) EndSession(sessionID string) error {
	_, err := sdb.Exec(`UPDATE scan_sessions SET ended_unix_nanos = ? WHERE session_id = ?`,
		time.Now().UnixNano(), sessionID)
	return err
}

// InsertFrame records one completed frame's reassembly outcome and returns
// the new row id.
func (sdb *ScanDB) InsertFrame(sessionID string, f *scan.Frame) (int64, error) {
	valid, first, last := frameTimestampSpan(f)
	captured := frameCaptureTime(f)

	stmt := `INSERT INTO scan_frames (session_id, frame_id, valid_columns, missing_columns, first_timestamp, last_timestamp, captured_unix_nanos)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := sdb.Exec(stmt, sessionID, f.FrameID, valid, f.Width-valid,
		int64(first), int64(last), captured.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FrameRecord is one scan_frames row.
type FrameRecord struct {
	RowID          int64
	SessionID      string
	FrameID        uint16
	ValidColumns   int
	MissingColumns int
	FirstTimestamp uint64
	LastTimestamp  uint64
	CapturedAt     time.Time
}

// FramesForSession returns the session's frame rows in insertion order.
func (sdb *ScanDB) FramesForSession(sessionID string) ([]FrameRecord, error) {
	rows, err := sdb.Query(`SELECT frame_rowid, session_id, frame_id, valid_columns, missing_columns, first_timestamp, last_timestamp, captured_unix_nanos
		FROM scan_frames WHERE session_id = ? ORDER BY frame_rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var r FrameRecord
		var first, last, captured int64
		var fid int
		if err := rows.Scan(&r.RowID, &r.SessionID, &fid, &r.ValidColumns, &r.MissingColumns, &first, &last, &captured); err != nil {
			return nil, err
		}
		r.FrameID = uint16(fid)
		r.FirstTimestamp = uint64(first)
		r.LastTimestamp = uint64(last)
		r.CapturedAt = time.Unix(0, captured)
		out = append(out, r)
	}
	return out, rows.Err()
}

// frameTimestampSpan counts the frame's valid columns and returns the
// earliest and latest sensor timestamps among them.
func frameTimestampSpan(f *scan.Frame) (valid int, first, last uint64) {
	for c := 0; c < f.Width; c++ {
		if f.Status[c] != scan.ColumnValid {
			continue
		}
		valid++
		ts := f.Timestamps[c]
		if first == 0 || ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}
	}
	return valid, first, last
}

// frameCaptureTime returns the latest capture time among the frame's valid
// columns, i.e. when the frame finished arriving.
func frameCaptureTime(f *scan.Frame) time.Time {
	var latest time.Time
	for c := 0; c < f.Width; c++ {
		if f.Status[c] != scan.ColumnValid {
			continue
		}
		if f.CaptureTimes[c].After(latest) {
			latest = f.CaptureTimes[c]
		}
	}
	return latest
}
