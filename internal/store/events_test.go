package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_AppendAndReadAfter(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	last, err := s.LastEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	seq1, err := s.AppendEvent(ctx, EventRecord{Process: "p1", Origin: "o1", Kind: "update", Key: "k", Value: []byte(`"v"`)})
	require.NoError(t, err)
	seq2, err := s.AppendEvent(ctx, EventRecord{Process: "p1", Origin: "o1", Kind: "delete", Key: "k"})
	require.NoError(t, err)
	seq3, err := s.AppendEvent(ctx, EventRecord{Process: "p2", Origin: "o2", Kind: "migration_completed", Version: 2})
	require.NoError(t, err)
	assert.Less(t, seq1, seq2)
	assert.Less(t, seq2, seq3)

	events, err := s.EventsAfter(ctx, seq1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "delete", events[0].Kind)
	assert.Nil(t, events[0].Value)
	assert.Equal(t, "migration_completed", events[1].Kind)
	assert.Equal(t, 2, events[1].Version)
	assert.Equal(t, "p2", events[1].Process)

	last, err = s.LastEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, seq3, last)
}

func TestEvents_Limit(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, EventRecord{Process: "p", Origin: "o", Kind: "update_many"})
		require.NoError(t, err)
	}

	events, err := s.EventsAfter(ctx, 0, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestEvents_PruneKeepsSequence(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	for i := 0; i < 4; i++ {
		_, err := s.AppendEvent(ctx, EventRecord{Process: "p", Origin: "o", Kind: "update_many"})
		require.NoError(t, err)
	}

	n, err := s.PruneEvents(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	events, err := s.EventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(4), events[0].Seq)

	// AUTOINCREMENT never reuses pruned sequence numbers
	seq, err := s.AppendEvent(ctx, EventRecord{Process: "p", Origin: "o", Kind: "update_many"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq)
}
