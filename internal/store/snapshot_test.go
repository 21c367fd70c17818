package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_ExcludesRetrievals(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inScope(t, s, func(ctx context.Context, sc *Scope) error {
		v, err := sc.UpsertEntry(ctx, "ab01", []byte("hello"))
		if err != nil {
			return err
		}
		after := v.Ref()
		if _, err := sc.AppendEvent(ctx, EventRecord{
			UID: "evt-1", Action: ActionUpdate, Key: "ab01",
			Request:    testRequest(1, HeaderPair{Name: "Host", Value: "h"}, HeaderPair{Name: "Content-Length", Value: "5"}),
			ValueAfter: &after,
		}); err != nil {
			return err
		}
		if _, err := sc.AppendEvent(ctx, EventRecord{
			UID: "evt-2", Action: ActionRetrieve, Key: "ab01",
			Request: testRequest(2), ValueBefore: &after, ValueAfter: &after,
		}); err != nil {
			return err
		}
		_, err = sc.AppendEvent(ctx, EventRecord{
			UID: "evt-3", Action: ActionRetrieve, Key: "ffff",
			Request: testRequest(3),
		})
		return err
	})

	active, records, err := s.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"ab01"}, active)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "ab01", rec.Key)
	assert.Equal(t, "10.0.0.1", rec.Address)
	require.NotNil(t, rec.Size)
	assert.Equal(t, int64(5), *rec.Size)
	require.Len(t, rec.Headers, 2)
	assert.Equal(t, "Host", rec.Headers[0].Key)
	assert.Equal(t, "Content-Length", rec.Headers[1].Key)
	assert.Equal(t, "5", rec.Headers[1].Value)
}

func TestSnapshot_DeleteHasNoSize(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inScope(t, s, func(ctx context.Context, sc *Scope) error {
		_, err := sc.AppendEvent(ctx, EventRecord{
			UID: "evt-1", Action: ActionDelete, Key: "cd02", Request: testRequest(1),
		})
		return err
	})

	active, records, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Size)
	assert.NotNil(t, records[0].Headers)
}
