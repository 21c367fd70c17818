package kv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/auditkv/internal/store"
	"github.com/roach88/auditkv/internal/testutil"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func setupService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testutil.NewStepClock(testutil.Epoch, time.Second)
	}
	if opts.IDs == nil {
		opts.IDs = testutil.NewIDSequence("")
	}
	return New(setupTestStore(t), opts)
}

func req(headers ...store.HeaderPair) store.RequestMetadata {
	return store.RequestMetadata{Address: "10.0.0.1", Headers: headers}
}

func TestUpdateThenRetrieve(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("hello"), req())
	require.NoError(t, err)

	got, err := svc.Retrieve(ctx, "ab01", req())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestRetrieve_NotFound(t *testing.T) {
	svc := setupService(t, Options{AuditRetrievals: true})
	ctx := context.Background()

	_, err := svc.Retrieve(ctx, "ab01", req())
	assert.ErrorIs(t, err, ErrNotFound)

	// The miss is still audited.
	events, err := svc.Events(ctx, "ab01")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.ActionRetrieve, events[0].Action)
	assert.Nil(t, events[0].ValueBefore)
	assert.Nil(t, events[0].ValueAfter)
}

func TestRetrieve_AuditToggle(t *testing.T) {
	ctx := context.Background()

	for _, audit := range []bool{true, false} {
		t.Run(fmt.Sprintf("audit=%v", audit), func(t *testing.T) {
			svc := setupService(t, Options{AuditRetrievals: audit})

			_, err := svc.Update(ctx, "ab01", []byte("x"), req())
			require.NoError(t, err)
			_, err = svc.Retrieve(ctx, "ab01", req())
			require.NoError(t, err)

			n, err := svc.Store().CountEvents(ctx)
			require.NoError(t, err)
			if audit {
				assert.Equal(t, 2, n)
			} else {
				assert.Equal(t, 1, n)
			}
		})
	}
}

func TestScenario_SameContentTwice(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	v1, err := svc.Update(ctx, "ab01", []byte("hello"), req())
	require.NoError(t, err)
	v2, err := svc.Update(ctx, "ab01", []byte("hello"), req())
	require.NoError(t, err)

	assert.Equal(t, v1.ID, v2.ID)
	values, err := svc.Store().CountValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, values)

	events, err := svc.Events(ctx, "ab01")
	require.NoError(t, err)
	require.Len(t, events, 2)

	for _, ev := range events {
		assert.Equal(t, store.ActionUpdate, ev.Action)
		require.NotNil(t, ev.ValueAfter)
		assert.Equal(t, v1.ID, ev.ValueAfter.ID)
	}
	assert.Nil(t, events[0].ValueBefore)
	require.NotNil(t, events[1].ValueBefore)
	assert.Equal(t, events[1].ValueAfter.ID, events[1].ValueBefore.ID)
}

func TestScenario_WriteThenDelete(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "cd02", []byte("x"), req())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "cd02", req()))

	active, _, err := svc.Store().Snapshot(ctx)
	require.NoError(t, err)
	assert.NotContains(t, active, "cd02")

	d, err := svc.Dump(ctx)
	require.NoError(t, err)

	kh, ok := d["cd02"]
	require.True(t, ok)
	assert.Nil(t, kh.Current)
	require.Len(t, kh.History, 2)
	assert.Nil(t, kh.History[0].Size, "most recent record is the delete")
	require.NotNil(t, kh.History[1].Size)
	assert.Equal(t, int64(1), *kh.History[1].Size)
	assert.True(t, kh.History[0].Timestamp.After(kh.History[1].Timestamp))
}

func TestReconstruction_UpdateUpdateDelete(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("v1"), req())
	require.NoError(t, err)
	_, err = svc.Update(ctx, "ab01", []byte("v2-longer"), req())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "ab01", req()))

	d, err := svc.Dump(ctx)
	require.NoError(t, err)

	kh := d["ab01"]
	assert.Nil(t, kh.Current)
	require.Len(t, kh.History, 3)
	assert.Nil(t, kh.History[0].Size)
	assert.Equal(t, int64(9), *kh.History[1].Size)
	assert.Equal(t, int64(2), *kh.History[2].Size)
}

func TestReconstruction_TiedTimestamps(t *testing.T) {
	// A frozen clock stamps every request identically.
	svc := setupService(t, Options{Clock: testutil.NewStepClock(testutil.Epoch, 0)})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("first"), req())
	require.NoError(t, err)
	_, err = svc.Update(ctx, "ab01", []byte("second!"), req())
	require.NoError(t, err)

	d, err := svc.Dump(ctx)
	require.NoError(t, err)

	require.NotNil(t, d["ab01"].Current)
	assert.Equal(t, int64(7), *d["ab01"].Current.Size)
	require.Len(t, d["ab01"].History, 1)
	assert.Equal(t, int64(5), *d["ab01"].History[0].Size)
}

func TestReconstruction_DeletedAndRecreated(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("a"), req())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "ab01", req()))
	_, err = svc.Update(ctx, "ab01", []byte("abc"), req())
	require.NoError(t, err)

	d, err := svc.Dump(ctx)
	require.NoError(t, err)

	require.Len(t, d, 1)
	require.NotNil(t, d["ab01"].Current)
	assert.Equal(t, int64(3), *d["ab01"].Current.Size)
	require.Len(t, d["ab01"].History, 2)
	assert.Nil(t, d["ab01"].History[0].Size)
}

func TestRetrieveExclusion(t *testing.T) {
	svc := setupService(t, Options{AuditRetrievals: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Retrieve(ctx, "ee05", req())
		require.ErrorIs(t, err, ErrNotFound)
	}

	d, err := svc.Dump(ctx)
	require.NoError(t, err)
	assert.NotContains(t, d, "ee05")
}

func TestDump_HeadersAndAddress(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("hello"), store.RequestMetadata{
		Address: "192.0.2.7",
		Headers: []store.HeaderPair{
			{Name: "Host", Value: "localhost:8080"},
			{Name: "Content-Type", Value: "application/octet-stream"},
		},
	})
	require.NoError(t, err)

	d, err := svc.Dump(ctx)
	require.NoError(t, err)

	cur := d["ab01"].Current
	require.NotNil(t, cur)
	assert.Equal(t, "192.0.2.7", cur.Address)
	assert.Equal(t, testutil.Epoch, cur.Timestamp)
	require.Len(t, cur.Headers, 2)
	assert.Equal(t, "Host", cur.Headers[0].Key)
	assert.Equal(t, "application/octet-stream", cur.Headers[1].Value)
}

func TestUpdate_ExplicitTimestampIsKept(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()
	when := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)

	_, err := svc.Update(ctx, "ab01", []byte("x"), store.RequestMetadata{Timestamp: when})
	require.NoError(t, err)

	events, err := svc.Events(ctx, "ab01")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, when, events[0].Request.Timestamp)
}

func TestDelete_IdempotentAndAudited(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "ab01", req()))
	require.NoError(t, svc.Delete(ctx, "ab01", req()))

	events, err := svc.Events(ctx, "ab01")
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, store.ActionDelete, ev.Action)
		assert.Nil(t, ev.ValueBefore)
		assert.Nil(t, ev.ValueAfter)
	}
}

func TestMalformedInput(t *testing.T) {
	svc := setupService(t, Options{MaxValueBytes: 4})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("too long"), req())
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = svc.Update(ctx, "", []byte("x"), req())
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = svc.Retrieve(ctx, "", req())
	assert.ErrorIs(t, err, ErrMalformedInput)

	assert.ErrorIs(t, svc.Delete(ctx, "", req()), ErrMalformedInput)

	n, err := svc.Store().CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rejected input must not be audited")
}

func TestAtomicity_FailedAppendRollsBackMutation(t *testing.T) {
	// Every event gets the same uid, so the second append violates the
	// uniqueness constraint after its entry was already repointed.
	svc := setupService(t, Options{IDs: testutil.FixedID("dup")})
	ctx := context.Background()

	_, err := svc.Update(ctx, "ab01", []byte("v1"), req())
	require.NoError(t, err)

	_, err = svc.Update(ctx, "ab01", []byte("v2"), req())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	err = svc.Delete(ctx, "ab01", req())
	require.Error(t, err)

	got, err := svc.Retrieve(ctx, "ab01", req())
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got, "failed scopes must leave the entry untouched")

	n, err := svc.Store().CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	values, err := svc.Store().CountValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, values, "value created by the failed scope must be rolled back")
}

func TestConcurrentUpdates_SameContent(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("%04x", i%4)
			if _, err := svc.Update(ctx, key, []byte("same payload"), req()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	values, err := svc.Store().CountValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, values)

	n, err := svc.Store().CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, n)

	d, err := svc.Dump(ctx)
	require.NoError(t, err)
	assert.Len(t, d, 4)
	for _, kh := range d {
		require.NotNil(t, kh.Current)
		assert.Len(t, kh.History, workers/4-1)
	}
}

func TestConcurrentUpdates_SameKeyBeforeAfterChain(t *testing.T) {
	svc := setupService(t, Options{})
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Update(ctx, "ab01", []byte(strings.Repeat("x", i+1)), req())
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events, err := svc.Events(ctx, "ab01")
	require.NoError(t, err)
	require.Len(t, events, workers)

	// Serialized scopes: each event's before is the previous event's after.
	assert.Nil(t, events[0].ValueBefore)
	for i := 1; i < len(events); i++ {
		require.NotNil(t, events[i].ValueBefore)
		assert.Equal(t, events[i-1].ValueAfter.ID, events[i].ValueBefore.ID)
		assert.True(t, events[i].Request.Timestamp.After(events[i-1].Request.Timestamp),
			"timestamps follow commit order")
	}

	// The reconstructed current record is the value actually stored.
	live, err := svc.Retrieve(ctx, "ab01", req())
	require.NoError(t, err)
	d, err := svc.Dump(ctx)
	require.NoError(t, err)
	require.NotNil(t, d["ab01"].Current)
	require.NotNil(t, d["ab01"].Current.Size)
	assert.Equal(t, int64(len(live)), *d["ab01"].Current.Size)
	assert.Equal(t, events[len(events)-1].ValueAfter.Size, *d["ab01"].Current.Size)
}
