package models

import "time"

// Watermark — последний обработанный блок для потока синхронизации.
// По нему конвейер возобновляет приём после перезапуска.
type Watermark struct {
	Stream       string    `db:"stream" json:"stream"`
	LastBlockNum int64     `db:"last_block_num" json:"last_block_num"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
