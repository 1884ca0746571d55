package storage

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHashKey = "simulator:scenarios:CP001"

func TestRedisRepository_SaveAndLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepositoryWithClient(db, "CP001", nil)
	ctx := context.Background()

	def := sampleDef("s1")
	data, err := def.Export()
	require.NoError(t, err)

	mock.ExpectHSet(testHashKey, "s1", string(data)).SetVal(1)
	require.NoError(t, repo.Save(ctx, def))

	mock.ExpectHGetAll(testHashKey).SetVal(map[string]string{"s1": string(data)})
	defs, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "s1", defs[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_LoadSkipsInvalidEntries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepositoryWithClient(db, "CP001", nil)

	good, err := sampleDef("good").Export()
	require.NoError(t, err)

	// 坏条目被跳过，不阻断载入
	mock.ExpectHGetAll(testHashKey).SetVal(map[string]string{
		"good":   string(good),
		"broken": "{not json",
	})

	defs, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "good", defs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_Delete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepositoryWithClient(db, "CP001", nil)
	ctx := context.Background()

	mock.ExpectHDel(testHashKey, "s1").SetVal(1)
	require.NoError(t, repo.Delete(ctx, "s1"))

	// 不存在的场景返回ErrNotFound
	mock.ExpectHDel(testHashKey, "missing").SetVal(0)
	assert.ErrorIs(t, repo.Delete(ctx, "missing"), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRepository_Clear(t *testing.T) {
	db, mock := redismock.NewClientMock()
	repo := NewRedisRepositoryWithClient(db, "CP001", nil)

	mock.ExpectDel(testHashKey).SetVal(1)
	require.NoError(t, repo.Clear(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
