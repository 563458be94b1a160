package scandb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-sensors/spinscan/internal/scan"
	"github.com/arc-sensors/spinscan/internal/scan/profile"
)

func testDB(t *testing.T) *ScanDB {
	t.Helper()
	db, err := NewScanDB(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testFrame(width int, validCols []int, frameID uint16) *scan.Frame {
	f := scan.NewFrame(width, 4, []profile.ChanField{profile.ChanRange})
	f.FrameID = frameID
	base := time.Now()
	for i, c := range validCols {
		f.Status[c] = scan.ColumnValid
		f.Timestamps[c] = uint64(100 + c)
		f.CaptureTimes[c] = base.Add(time.Duration(i) * time.Millisecond)
	}
	return f
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)

	md := &scan.SensorMetadata{
		SerialNumber:     "992029000352",
		UDPProfile:       profile.ProfileSingle,
		ColumnsPerFrame:  1024,
		PixelsPerColumn:  64,
		ColumnsPerPacket: 16,
	}
	s, err := db.StartSession(md, "udp:0.0.0.0:7502")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "992029000352", s.SensorSerial)

	// A second session gets its own id.
	s2, err := db.StartSession(md, "pcap:drive.pcap")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, s2.ID)

	require.NoError(t, db.EndSession(s.ID))

	var ended *int64
	err = db.QueryRow(`SELECT ended_unix_nanos FROM scan_sessions WHERE session_id = ?`, s.ID).Scan(&ended)
	require.NoError(t, err)
	assert.NotNil(t, ended)

	err = db.QueryRow(`SELECT ended_unix_nanos FROM scan_sessions WHERE session_id = ?`, s2.ID).Scan(&ended)
	require.NoError(t, err)
	assert.Nil(t, ended, "unended session keeps a null end time")
}

func TestInsertAndQueryFrames(t *testing.T) {
	db := testDB(t)
	md := &scan.SensorMetadata{
		UDPProfile:       profile.ProfileLegacy,
		ColumnsPerFrame:  512,
		PixelsPerColumn:  32,
		ColumnsPerPacket: 16,
	}
	s, err := db.StartSession(md, "pcap:drive.pcap")
	require.NoError(t, err)

	f1 := testFrame(512, []int{0, 1, 2, 509}, 41)
	f2 := testFrame(512, []int{5}, 42)

	id1, err := db.InsertFrame(s.ID, f1)
	require.NoError(t, err)
	id2, err := db.InsertFrame(s.ID, f2)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	recs, err := db.FramesForSession(s.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, uint16(41), recs[0].FrameID)
	assert.Equal(t, 4, recs[0].ValidColumns)
	assert.Equal(t, 508, recs[0].MissingColumns)
	assert.Equal(t, uint64(100), recs[0].FirstTimestamp)
	assert.Equal(t, uint64(609), recs[0].LastTimestamp)
	assert.False(t, recs[0].CapturedAt.IsZero())

	assert.Equal(t, uint16(42), recs[1].FrameID)
	assert.Equal(t, 1, recs[1].ValidColumns)

	// Other sessions see nothing.
	other, err := db.FramesForSession("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, other)
}
