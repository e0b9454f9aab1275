package rallydb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-data/rallycut/internal/rally"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "rally_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResult() rally.Result {
	return rally.Result{
		RunID:         "run-0001",
		Outcome:       rally.OutcomeCompleted,
		VideoDuration: 120.0,
		Segments: []rally.RallySegment{
			{Start: 10.5, End: 24.0, Confidence: 0.85, Quality: 0.7, DetectionCount: 380, AvgTrajLength: 0.42, Contacts: 5},
			{Start: 40.0, End: 49.5, Confidence: 0.78, Quality: 0.6, DetectionCount: 260, AvgTrajLength: 0.35, Contacts: 3},
		},
		Export: rally.ExportStats{
			SegmentCount:     2,
			TotalRallySecs:   23.0,
			VideoDuration:    120.0,
			CoveragePercent:  19.17,
			CompressionRatio: 5.22,
		},
		Stats: rally.ProcessingStats{
			FramesSeen:           3600,
			FramesWithDetections: 900,
			RallyFrames:          690,
			TotalDetections:      950,
			TracksClosed:         12,
			ValidTrajectories:    9,
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	db := openTestDB(t)
	res := sampleResult()

	require.NoError(t, db.SaveRun("/videos/match.mp4", res))

	rec, err := db.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, rec.RunID)
	assert.Equal(t, "/videos/match.mp4", rec.VideoPath)
	assert.Equal(t, rally.OutcomeCompleted, rec.Outcome)
	assert.Equal(t, 3600, rec.FramesSeen)
	assert.Equal(t, 12, rec.TracksClosed)
	assert.InDelta(t, 19.17, rec.CoveragePercent, 1e-9)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSegmentsForRun(t *testing.T) {
	db := openTestDB(t)
	res := sampleResult()
	require.NoError(t, db.SaveRun("/videos/match.mp4", res))

	segs, err := db.SegmentsForRun(res.RunID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.InDelta(t, 10.5, segs[0].Start, 1e-9)
	assert.InDelta(t, 24.0, segs[0].End, 1e-9)
	assert.Equal(t, 5, segs[0].Contacts)
	assert.InDelta(t, 40.0, segs[1].Start, 1e-9)
	assert.Equal(t, 260, segs[1].DetectionCount)
}

func TestGetRun_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun("missing")
	assert.Error(t, err)
}

func TestSaveRun_DuplicateIDFails(t *testing.T) {
	db := openTestDB(t)
	res := sampleResult()
	require.NoError(t, db.SaveRun("/videos/a.mp4", res))
	assert.Error(t, db.SaveRun("/videos/b.mp4", res))
}

func TestListRuns(t *testing.T) {
	db := openTestDB(t)

	first := sampleResult()
	second := sampleResult()
	second.RunID = "run-0002"
	second.Outcome = rally.OutcomeNoRallies
	second.Segments = nil

	require.NoError(t, db.SaveRun("/videos/a.mp4", first))
	require.NoError(t, db.SaveRun("/videos/b.mp4", second))

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = db.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestDeleteRun_CascadesSegments(t *testing.T) {
	db := openTestDB(t)
	res := sampleResult()
	require.NoError(t, db.SaveRun("/videos/match.mp4", res))

	require.NoError(t, db.DeleteRun(res.RunID))

	_, err := db.GetRun(res.RunID)
	assert.Error(t, err)

	segs, err := db.SegmentsForRun(res.RunID)
	require.NoError(t, err)
	assert.Empty(t, segs)
}
