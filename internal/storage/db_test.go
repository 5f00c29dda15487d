package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/agentvoice/internal/call"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecentCalls(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	answered := base.Add(5 * time.Second)

	db.Record(call.Record{
		CallID:          "c-1",
		Direction:       call.DirectionOutbound,
		RemoteExtension: "2001",
		Reason:          "hangup",
		StartedAt:       base,
		AnsweredAt:      &answered,
		EndedAt:         base.Add(time.Minute),
	})
	db.Record(call.Record{
		CallID:            "c-2",
		Direction:         call.DirectionInbound,
		RemoteExtension:   "2002",
		RemoteDisplayName: "Ada",
		Reason:            "rejected",
		StartedAt:         base.Add(10 * time.Minute),
		EndedAt:           base.Add(11 * time.Minute),
	})

	recs, err := db.RecentCalls(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first.
	assert.Equal(t, "c-2", recs[0].CallID)
	assert.Equal(t, "c-1", recs[1].CallID)

	assert.Equal(t, call.DirectionInbound, recs[0].Direction)
	assert.Equal(t, "Ada", recs[0].RemoteDisplayName)
	assert.Nil(t, recs[0].AnsweredAt, "unanswered call has no answer time")

	require.NotNil(t, recs[1].AnsweredAt)
	assert.Equal(t, answered.UnixMilli(), recs[1].AnsweredAt.UnixMilli())
	assert.Equal(t, base.UnixMilli(), recs[1].StartedAt.UnixMilli())
}

func TestRecentCallsLimit(t *testing.T) {
	db := openTestDB(t)

	now := time.Now()
	for i := 0; i < 5; i++ {
		db.Record(call.Record{
			CallID:    "c",
			Direction: call.DirectionInbound,
			Reason:    "hangup",
			StartedAt: now.Add(time.Duration(i) * time.Minute),
			EndedAt:   now.Add(time.Duration(i+1) * time.Minute),
		})
	}

	recs, err := db.RecentCalls(3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	// Non-positive limit falls back to the default instead of erroring.
	recs, err = db.RecentCalls(0)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestOpenIsIdempotentOnSchema(t *testing.T) {
	dir := t.TempDir()
	db1, err := Open(dir)
	require.NoError(t, err)
	db1.Record(call.Record{CallID: "c-1", Direction: call.DirectionInbound, Reason: "hangup",
		StartedAt: time.Now(), EndedAt: time.Now()})
	require.NoError(t, db1.Close())

	// Reopening finds the existing schema and rows.
	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()

	recs, err := db2.RecentCalls(10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
