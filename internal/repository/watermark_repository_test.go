package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shannynalayna/grid/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	queryGetWatermark   = `SELECT stream, last_block_num, updated_at FROM sync_watermarks WHERE stream=$1`
	queryListWatermarks = `SELECT stream, last_block_num, updated_at FROM sync_watermarks ORDER BY stream ASC`
	querySetWatermark   = `INSERT INTO sync_watermarks (stream, last_block_num, updated_at) VALUES ($1, $2, now())` +
		` ON CONFLICT (stream) DO UPDATE SET last_block_num = EXCLUDED.last_block_num, updated_at = now()`
	queryClampWatermarks = `UPDATE sync_watermarks SET last_block_num = $1 - 1, updated_at = now()` +
		` WHERE last_block_num >= $1`
)

// Вспомогательная функция для создания мока БД и репозитория watermark'ов.
func setupWatermarkRepoMock(t *testing.T) (repository.WatermarkRepository, *sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := repository.NewPostgresWatermarkRepository(sqlxDB)
	return repo, sqlxDB, mock
}

func TestWatermarkGet(t *testing.T) {
	now := time.Now()

	t.Run("Успешный поиск", func(t *testing.T) {
		repo, _, mock := setupWatermarkRepoMock(t)

		rows := sqlmock.NewRows([]string{"stream", "last_block_num", "updated_at"}).
			AddRow("schema", int64(42), now)
		mock.ExpectQuery(regexp.QuoteMeta(queryGetWatermark)).
			WithArgs("schema").
			WillReturnRows(rows)

		wm, err := repo.Get(context.Background(), "schema")

		require.NoError(t, err)
		assert.Equal(t, "schema", wm.Stream)
		assert.Equal(t, int64(42), wm.LastBlockNum)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Watermark не найден", func(t *testing.T) {
		repo, _, mock := setupWatermarkRepoMock(t)

		mock.ExpectQuery(regexp.QuoteMeta(queryGetWatermark)).
			WithArgs("organization").
			WillReturnError(sql.ErrNoRows)

		wm, err := repo.Get(context.Background(), "organization")

		assert.Nil(t, wm)
		assert.ErrorIs(t, err, repository.ErrWatermarkNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWatermarkList(t *testing.T) {
	now := time.Now()

	t.Run("Успех: список потоков", func(t *testing.T) {
		repo, _, mock := setupWatermarkRepoMock(t)

		rows := sqlmock.NewRows([]string{"stream", "last_block_num", "updated_at"}).
			AddRow("organization", int64(40), now).
			AddRow("schema", int64(42), now)
		mock.ExpectQuery(regexp.QuoteMeta(queryListWatermarks)).WillReturnRows(rows)

		watermarks, err := repo.List(context.Background())

		require.NoError(t, err)
		require.Len(t, watermarks, 2)
		assert.Equal(t, "organization", watermarks[0].Stream)
		assert.Equal(t, "schema", watermarks[1].Stream)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Успех: пустой список", func(t *testing.T) {
		repo, _, mock := setupWatermarkRepoMock(t)

		rows := sqlmock.NewRows([]string{"stream", "last_block_num", "updated_at"})
		mock.ExpectQuery(regexp.QuoteMeta(queryListWatermarks)).WillReturnRows(rows)

		watermarks, err := repo.List(context.Background())

		require.NoError(t, err)
		assert.Empty(t, watermarks)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWatermarkSet(t *testing.T) {
	t.Run("Успешное продвижение", func(t *testing.T) {
		repo, sqlxDB, mock := setupWatermarkRepoMock(t)

		mock.ExpectExec(regexp.QuoteMeta(querySetWatermark)).
			WithArgs("schema", int64(43)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Set(context.Background(), sqlxDB, "schema", 43)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ошибка базы данных", func(t *testing.T) {
		repo, sqlxDB, mock := setupWatermarkRepoMock(t)

		mock.ExpectExec(regexp.QuoteMeta(querySetWatermark)).
			WithArgs("schema", int64(43)).
			WillReturnError(errors.New("upsert error"))

		err := repo.Set(context.Background(), sqlxDB, "schema", 43)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ошибка выполнения запроса на продвижение watermark")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWatermarkClampTo(t *testing.T) {
	t.Run("Опускаются только ушедшие вперед потоки", func(t *testing.T) {
		repo, sqlxDB, mock := setupWatermarkRepoMock(t)

		mock.ExpectExec(regexp.QuoteMeta(queryClampWatermarks)).
			WithArgs(int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 2))

		err := repo.ClampTo(context.Background(), sqlxDB, 100)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
