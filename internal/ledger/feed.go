// Package ledger описывает контракт ленты событий от коллаборатора
// синхронизации с реестром. Само подключение к реестру (подписка,
// валидация, консенсус) — вне зеркала; сюда приходят только уже
// зафиксированные change-set'ы и уведомления о форках.
package ledger

import (
	"context"
	"fmt"

	"github.com/shannynalayna/grid/internal/models"
)

// Event — один элемент упорядоченной ленты: либо change-set,
// либо уведомление о форке. Заполнено ровно одно из полей.
type Event struct {
	ChangeSet *models.ChangeSet
	Fork      *models.ForkNotification
}

// Feed — источник событий реестра для конвейера. Закрытие канала
// означает штатное завершение ленты.
type Feed interface {
	Events() <-chan Event
}

// ChannelFeed — реализация Feed поверх буферизованного канала.
// Приемная сторона (HTTP-ингест) публикует события, конвейер читает.
type ChannelFeed struct {
	events chan Event
}

var _ Feed = (*ChannelFeed)(nil)

// NewChannelFeed создает ленту с буфером на buffer событий.
func NewChannelFeed(buffer int) *ChannelFeed {
	return &ChannelFeed{events: make(chan Event, buffer)}
}

// Events возвращает канал событий для конвейера.
func (f *ChannelFeed) Events() <-chan Event {
	return f.events
}

// Publish кладет событие в ленту, уважая отмену контекста
// (при переполненном буфере публикация блокируется).
func (f *ChannelFeed) Publish(ctx context.Context, ev Event) error {
	select {
	case f.events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("публикация события прервана: %w", ctx.Err())
	}
}

// Close завершает ленту. После закрытия публиковать нельзя.
func (f *ChannelFeed) Close() {
	close(f.events)
}
