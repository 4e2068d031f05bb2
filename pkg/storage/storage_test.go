package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
)

var t0 = time.Date(2024, time.April, 2, 7, 30, 0, 0, time.UTC)

func engines(t *testing.T) map[string]Engine {
	t.Helper()
	mem := NewMemoryEngine()
	bdg, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		mem.Close()
		bdg.Close()
	})
	return map[string]Engine{"memory": mem, "badger": bdg}
}

func TestEngine_Households(t *testing.T) {
	ctx := context.Background()
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			h := household.New("h-1", "Home", t0)
			require.NoError(t, engine.PutHousehold(ctx, h))

			got, err := engine.GetHousehold(ctx, "h-1")
			require.NoError(t, err)
			assert.Equal(t, h.Name, got.Name)
			assert.True(t, h.Water.LastResetAt.Equal(got.Water.LastResetAt))
			assert.Equal(t, h.Hygiene[0].ID, got.Hygiene[0].ID)

			h.Name = "Renamed"
			require.NoError(t, engine.PutHousehold(ctx, h))
			got, err = engine.GetHousehold(ctx, "h-1")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)

			require.NoError(t, engine.PutHousehold(ctx, household.New("h-0", "Other", t0)))
			ids, err := engine.ListHouseholds(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"h-0", "h-1"}, ids)

			require.NoError(t, engine.DeleteHousehold(ctx, "h-1"))
			_, err = engine.GetHousehold(ctx, "h-1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, engine.DeleteHousehold(ctx, "h-1"), ErrNotFound)
		})
	}
}

func TestEngine_Credentials(t *testing.T) {
	ctx := context.Background()
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, err := engine.GetCredential(ctx, "h-1")
			assert.ErrorIs(t, err, ErrNotFound)

			c := Credential{HouseholdID: "h-1", PassHash: []byte("hash"), CreatedAt: t0}
			require.NoError(t, engine.PutCredential(ctx, c))
			got, err := engine.GetCredential(ctx, "h-1")
			require.NoError(t, err)
			assert.Equal(t, c.PassHash, got.PassHash)
			assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

			require.NoError(t, engine.PutHousehold(ctx, household.New("h-1", "Home", t0)))
			require.NoError(t, engine.DeleteHousehold(ctx, "h-1"))
			_, err = engine.GetCredential(ctx, "h-1")
			assert.ErrorIs(t, err, ErrNotFound, "credential goes with the household")
		})
	}
}

func TestEngine_InvalidID(t *testing.T) {
	ctx := context.Background()
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, err := engine.GetHousehold(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidID)
			assert.ErrorIs(t, engine.PutHousehold(ctx, household.Household{}), ErrInvalidID)
			assert.ErrorIs(t, engine.PutCredential(ctx, Credential{}), ErrInvalidID)
		})
	}
}

func TestEngine_Closed(t *testing.T) {
	ctx := context.Background()
	for name, engine := range engines(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, engine.Close())
			_, err := engine.GetHousehold(ctx, "h-1")
			assert.ErrorIs(t, err, ErrStorageClosed)
			assert.ErrorIs(t, engine.PutHousehold(ctx, household.New("h-1", "x", t0)), ErrStorageClosed)
			_, err = engine.ListHouseholds(ctx)
			assert.ErrorIs(t, err, ErrStorageClosed)
			assert.NoError(t, engine.Close(), "second close is a no-op")
		})
	}
}

func TestBadgerEngine_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := NewBadgerEngineWithOptions(BadgerOptions{DataDir: dir, LowMemory: true, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, engine.PutHousehold(ctx, household.New("h-1", "Home", t0)))
	require.NoError(t, engine.Sync())
	require.NoError(t, engine.Close())

	engine, err = NewBadgerEngine(dir)
	require.NoError(t, err)
	defer engine.Close()

	got, err := engine.GetHousehold(ctx, "h-1")
	require.NoError(t, err)
	assert.Equal(t, "Home", got.Name)
}

func TestBadgerEngine_GC(t *testing.T) {
	ctx := context.Background()
	engine, err := NewBadgerEngine(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, engine.PutHousehold(ctx, household.New("h-1", "Home", t0)))

	assert.NoError(t, engine.RunGC(), "nothing to rewrite is not an error")
	lsm, vlog := engine.Size()
	assert.GreaterOrEqual(t, lsm, int64(0))
	assert.GreaterOrEqual(t, vlog, int64(0))

	mem, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	defer mem.Close()
	assert.NoError(t, mem.RunGC())

	require.NoError(t, engine.Close())
	assert.ErrorIs(t, engine.RunGC(), ErrStorageClosed)
	lsm, vlog = engine.Size()
	assert.Zero(t, lsm)
	assert.Zero(t, vlog)
}

func TestDecodeHousehold_InvalidData(t *testing.T) {
	_, err := decodeHousehold([]byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidData)
}
