// Package cursor реализует непрозрачные токены keyset-пагинации.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Cursor — внутреннее состояние токена пагинации. Итерация только вперед,
// в порядке возрастания record_key.
type Cursor struct {
	// AfterKey — последний ключ предыдущей страницы; следующая страница
	// начинается строго после него.
	AfterKey string `json:"after_key"`
	// FilterHash инвалидирует токен при смене фильтра (тип сущности,
	// партиция), чтобы токен нельзя было переиспользовать между списками.
	FilterHash string `json:"filter_hash,omitempty"`
}

// Encode кодирует курсор в непрозрачную base64-строку.
func Encode(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации курсора: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// Decode разбирает непрозрачную base64-строку в курсор.
// Возвращает ошибку для пустого или искаженного токена.
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("пустой токен пагинации")
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("ошибка разбора курсора: %w", err)
	}
	return c, nil
}

// HashFilter вычисляет короткий хеш строки фильтра для валидации токена.
// Для пустого фильтра возвращает пустую строку.
func HashFilter(filter string) string {
	if filter == "" {
		return ""
	}
	h := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(h[:8])
}

// ValidateFilterHash проверяет, что токен выпущен для текущего фильтра.
func ValidateFilterHash(c Cursor, currentFilter string) error {
	if c.FilterHash != HashFilter(currentFilter) {
		return fmt.Errorf("фильтр изменился с момента выпуска токена")
	}
	return nil
}

// New создает курсор продолжения после ключа afterKey.
func New(afterKey, filter string) Cursor {
	return Cursor{
		AfterKey:   afterKey,
		FilterHash: HashFilter(filter),
	}
}
