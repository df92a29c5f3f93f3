package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/shannynalayna/grid/internal/models"
)

// WatermarkRepository определяет методы для работы с watermark'ами
// потоков синхронизации.
type WatermarkRepository interface {
	Get(ctx context.Context, stream string) (*models.Watermark, error)
	List(ctx context.Context) ([]models.Watermark, error)
	Set(ctx context.Context, ext sqlx.ExtContext, stream string, lastBlockNum int64) error
	ClampTo(ctx context.Context, ext sqlx.ExtContext, blockNum int64) error
}

// postgresWatermarkRepository реализует WatermarkRepository для PostgreSQL.
type postgresWatermarkRepository struct {
	db *sqlx.DB
}

// NewPostgresWatermarkRepository создает новый экземпляр репозитория watermark'ов.
func NewPostgresWatermarkRepository(db *sqlx.DB) WatermarkRepository {
	return &postgresWatermarkRepository{db: db}
}

// Get возвращает watermark потока или ErrWatermarkNotFound.
func (r *postgresWatermarkRepository) Get(ctx context.Context, stream string) (*models.Watermark, error) {
	query := `SELECT stream, last_block_num, updated_at FROM sync_watermarks WHERE stream=$1`
	var wm models.Watermark

	err := r.db.GetContext(ctx, &wm, query, stream)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWatermarkNotFound
		}
		log.Printf("[WatermarkRepo] Ошибка поиска watermark потока '%s': %v", stream, err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение watermark: %w", err)
	}
	return &wm, nil
}

// List возвращает watermark'и всех потоков.
func (r *postgresWatermarkRepository) List(ctx context.Context) ([]models.Watermark, error) {
	query := `SELECT stream, last_block_num, updated_at FROM sync_watermarks ORDER BY stream ASC`
	watermarks := make([]models.Watermark, 0)

	if err := r.db.SelectContext(ctx, &watermarks, query); err != nil {
		log.Printf("[WatermarkRepo] Ошибка получения списка watermark'ов: %v", err)
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка watermark'ов: %w", err)
	}
	return watermarks, nil
}

// Set продвигает watermark потока (upsert). Вызывается в той же транзакции,
// что и применение change-set'а, чтобы продвижение было атомарно с записью.
func (r *postgresWatermarkRepository) Set(
	ctx context.Context,
	ext sqlx.ExtContext,
	stream string,
	lastBlockNum int64,
) error {
	query := `INSERT INTO sync_watermarks (stream, last_block_num, updated_at) VALUES ($1, $2, now())` +
		` ON CONFLICT (stream) DO UPDATE SET last_block_num = EXCLUDED.last_block_num, updated_at = now()`

	if _, err := ext.ExecContext(ctx, query, stream, lastBlockNum); err != nil {
		log.Printf("[WatermarkRepo] Ошибка продвижения watermark потока '%s' до блока %d: %v",
			stream, lastBlockNum, err)
		return fmt.Errorf("ошибка выполнения запроса на продвижение watermark: %w", err)
	}
	return nil
}

// ClampTo опускает watermark'и всех потоков, ушедших на блок blockNum и дальше,
// до blockNum-1. Вызывается в транзакции отката форка.
func (r *postgresWatermarkRepository) ClampTo(
	ctx context.Context,
	ext sqlx.ExtContext,
	blockNum int64,
) error {
	query := `UPDATE sync_watermarks SET last_block_num = $1 - 1, updated_at = now() WHERE last_block_num >= $1`

	res, err := ext.ExecContext(ctx, query, blockNum)
	if err != nil {
		log.Printf("[WatermarkRepo] Ошибка отката watermark'ов до блока %d: %v", blockNum, err)
		return fmt.Errorf("ошибка выполнения запроса на откат watermark'ов: %w", err)
	}
	if clamped, raErr := res.RowsAffected(); raErr == nil && clamped > 0 {
		log.Printf("[WatermarkRepo] Откатано %d watermark'ов до блока %d", clamped, blockNum-1)
	}
	return nil
}

// Кастомные ошибки репозитория watermark'ов.
var (
	ErrWatermarkNotFound = errors.New("watermark потока не найден")
)
