package history_test

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", &bytes.Buffer{})
}

func TestMemoryStore(t *testing.T) {
	testStoreOperations(t, history.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	store, err := history.NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := history.NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	rec := &history.Record{Counts: map[string]int{"EntryAdded": 1}}
	require.NoError(t, store.Record(ctx, rec))
	require.NoError(t, store.Close())

	store, err = history.NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDynamoDBStore(t *testing.T) {
	store, err := history.NewDynamoDBStore(newFakeDynamo(), "history", testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestDynamoDBStore_RequiresTable(t *testing.T) {
	_, err := history.NewDynamoDBStore(newFakeDynamo(), "", testLogger())
	assert.Error(t, err)
}

func TestDynamoDBStore_WritesTTL(t *testing.T) {
	fake := newFakeDynamo()
	store, err := history.NewDynamoDBStore(fake, "history", testLogger())
	require.NoError(t, err)

	rec := &history.Record{}
	require.NoError(t, store.Record(context.Background(), rec))

	item := fake.items[rec.ID]
	require.Contains(t, item, "ttl")
	require.Contains(t, item, "created_at")
	assert.NotContains(t, item["record"].(*types.AttributeValueMemberS).Value, "password")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	store, err := history.Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.History.Backend = config.HistorySQLite
	cfg.History.Path = filepath.Join(t.TempDir(), "nested", "history.db")
	store, err = history.Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())

	cfg.History.Backend = "postgres"
	_, err = history.Open(ctx, cfg, testLogger())
	assert.Error(t, err)
}

func testStoreOperations(t *testing.T, store history.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get non-existent", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("list empty", func(t *testing.T) {
		records, err := store.List(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("record and get", func(t *testing.T) {
		rec := &history.Record{
			Time:   base.Add(1500 * time.Microsecond),
			Before: history.Side{Name: "old.kdbx", SHA256: "aa", Version: "3.1"},
			After:  history.Side{Name: "new.kdbx", SHA256: "bb", Version: "4.1"},
			Counts: map[string]int{"EntryAdded": 2, "FieldModified": 1},
		}
		require.NoError(t, store.Record(ctx, rec))
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, base.Add(time.Millisecond), rec.Time)
		assert.Equal(t, 3, rec.Total())

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("record replaces by id", func(t *testing.T) {
		rec := &history.Record{ID: "fixed", Time: base, Counts: map[string]int{"GroupAdded": 1}}
		require.NoError(t, store.Record(ctx, rec))

		rec.Counts = map[string]int{"GroupRemoved": 4}
		require.NoError(t, store.Record(ctx, rec))

		got, err := store.Get(ctx, "fixed")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"GroupRemoved": 4}, got.Counts)
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, store.Record(ctx, &history.Record{
				ID:   fmt.Sprintf("run-%d", i),
				Time: base.Add(time.Duration(i+1) * time.Hour),
			}))
		}

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 7)
		assert.Equal(t, "run-4", all[0].ID)

		top, err := store.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "run-4", top[0].ID)
		assert.Equal(t, "run-3", top[1].ID)
		assert.NotNil(t, top[0].Counts)
	})
}

// fakeDynamo keeps items in memory keyed by "id".
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

// Scan returns one item per page to exercise pagination.
func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := in.ExclusiveStartKey["id"].(*types.AttributeValueMemberS).Value
		for start < len(ids) && ids[start] <= last {
			start++
		}
	}
	if start >= len(ids) {
		return &dynamodb.ScanOutput{}, nil
	}

	id := ids[start]
	out := &dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{{"record": f.items[id]["record"]}},
		Count: 1,
	}
	if start+1 < len(ids) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
	}
	return out, nil
}
