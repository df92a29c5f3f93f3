// Package ingest содержит конвейер приема change-set'ов: единственный
// логический писатель, который ведет события ленты через проектор
// в блочном порядке.
package ingest

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shannynalayna/grid/internal/ledger"
	"github.com/shannynalayna/grid/internal/models"
	"github.com/shannynalayna/grid/internal/repository"
	"github.com/shannynalayna/grid/internal/services"
)

// State — состояние конвейера.
type State string

const (
	StateSyncing     State = "SYNCING"      // Применяем поступающие change-set'ы
	StateCaughtUp    State = "CAUGHT_UP"    // Лента пуста, буфер дожат
	StateRollingBack State = "ROLLING_BACK" // Обрабатываем уведомление о форке
	StateStalled     State = "STALLED"      // Фатальный сбой, требуется оператор
)

// Значения по умолчанию для конфигурации конвейера.
const (
	defaultWindow               = 16
	defaultRetryMaxAttempts     = 5
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// Config — настройки конвейера.
type Config struct {
	Window               int           // Окно буферизации событий, пришедших не по порядку
	RetryMaxAttempts     uint64        // Количество повторов атомарного юнита до STALLED
	RetryInitialInterval time.Duration // Начальный интервал экспоненциального backoff
	RetryMaxInterval     time.Duration // Потолок интервала backoff
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = defaultRetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = defaultRetryMaxInterval
	}
}

// Pipeline последовательно применяет события ленты к проектору.
// Записи по одному потоку сериализованы самим конвейером, поэтому
// он запускается в единственном экземпляре.
type Pipeline struct {
	feed          ledger.Feed
	projector     services.ProjectorService
	watermarkRepo repository.WatermarkRepository
	cfg           Config

	mu    sync.RWMutex
	state State

	// lastProcessed мутируется только из Run (единственный писатель)
	lastProcessed int64
}

// NewPipeline создает конвейер приема.
func NewPipeline(
	feed ledger.Feed,
	projector services.ProjectorService,
	watermarkRepo repository.WatermarkRepository,
	cfg Config,
) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		feed:          feed,
		projector:     projector,
		watermarkRepo: watermarkRepo,
		cfg:           cfg,
		state:         StateSyncing,
	}
}

// State возвращает текущее состояние конвейера.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(next State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != next {
		log.Printf("[Pipeline] Переход состояния %s -> %s", p.state, next)
		p.state = next
	}
}

// Run ведет конвейер до закрытия ленты или отмены контекста.
// Отмена контекста — штатное завершение: текущий атомарный юнит
// доводится до конца (watermark фиксируется в его транзакции),
// новые события не принимаются.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logResumePoints(ctx)

	buf := &changeSetHeap{}
	heap.Init(buf)
	events := p.feed.Events()

	for {
		// Сигнал завершения проверяется только между юнитами:
		// юнит в работе всегда доводится до конца
		if ctx.Err() != nil {
			log.Printf("[Pipeline] Получен сигнал завершения, конвейер останавливается")
			return nil
		}

		// Сначала разбираем уже доставленные события без блокировки
		select {
		case ev, ok := <-events:
			if !ok {
				return p.finish(ctx, buf)
			}
			if err := p.handle(ctx, buf, ev); err != nil {
				return p.exitErr(ctx, err)
			}
			continue
		default:
		}

		// Лента пуста: дожимаем буфер и отмечаем CAUGHT_UP
		if err := p.drain(ctx, buf); err != nil {
			return p.exitErr(ctx, err)
		}
		if ctx.Err() != nil {
			log.Printf("[Pipeline] Получен сигнал завершения, буфер не дожат (%d событий)", buf.Len())
			return nil
		}
		p.setState(StateCaughtUp)

		select {
		case <-ctx.Done():
			log.Printf("[Pipeline] Получен сигнал завершения, конвейер останавливается")
			return nil
		case ev, ok := <-events:
			if !ok {
				return p.finish(ctx, buf)
			}
			if err := p.handle(ctx, buf, ev); err != nil {
				return p.exitErr(ctx, err)
			}
		}
	}
}

// exitErr отличает сбой конвейера от прерывания на завершении работы.
func (p *Pipeline) exitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		log.Printf("[Pipeline] Завершение во время обработки: %v", err)
		return nil
	}
	return err
}

func (p *Pipeline) handle(ctx context.Context, buf *changeSetHeap, ev ledger.Event) error {
	if ev.Fork != nil {
		return p.handleFork(ctx, buf, ev.Fork)
	}
	if ev.ChangeSet == nil {
		log.Printf("[Pipeline] Пустое событие ленты, пропускаем")
		return nil
	}
	cs := ev.ChangeSet

	// Блок отстал сильнее, чем окно позволяет переупорядочить, —
	// его слот уже применен, принимать поздно
	if p.lastProcessed > 0 && cs.BlockNum < p.lastProcessed-int64(p.cfg.Window) {
		p.setState(StateStalled)
		return fmt.Errorf("%w: блок %d отстал от обработанного %d больше чем на окно %d",
			ErrDeliveryGap, cs.BlockNum, p.lastProcessed, p.cfg.Window)
	}

	p.setState(StateSyncing)
	heap.Push(buf, cs)

	// Переполнение окна: применяем самые старые буферизованные события
	for buf.Len() > p.cfg.Window && ctx.Err() == nil {
		if err := p.applyNext(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) handleFork(ctx context.Context, buf *changeSetHeap, fork *models.ForkNotification) error {
	p.setState(StateRollingBack)
	log.Printf("[Pipeline] Обнаружен форк, откат до блока %d", fork.RevertToBlock)

	if dropped := buf.dropFrom(fork.RevertToBlock); dropped > 0 {
		log.Printf("[Pipeline] Выброшено %d буферизованных событий откатываемой истории", dropped)
	}

	// Откат, как и любой юнит, не прерывается сигналом завершения
	unitCtx := context.WithoutCancel(ctx)
	err := p.retry(ctx, func() error {
		return p.projector.Rollback(unitCtx, fork.RevertToBlock)
	})
	if err != nil {
		if ctx.Err() == nil {
			p.setState(StateStalled)
		}
		return fmt.Errorf("откат до блока %d не выполнен: %w", fork.RevertToBlock, err)
	}

	if p.lastProcessed >= fork.RevertToBlock {
		p.lastProcessed = fork.RevertToBlock - 1
	}
	p.setState(StateSyncing)
	return nil
}

// applyNext применяет самое раннее буферизованное событие.
func (p *Pipeline) applyNext(ctx context.Context, buf *changeSetHeap) error {
	cs := heap.Pop(buf).(*models.ChangeSet)

	if err := p.applyWithRetry(ctx, cs); err != nil {
		if ctx.Err() == nil {
			p.setState(StateStalled)
			log.Printf("[Pipeline] Конвейер остановлен (STALLED): change-set '%s' блока %d не применен: %v",
				cs.RecordKey, cs.BlockNum, err)
		}
		return fmt.Errorf("конвейер остановлен на блоке %d: %w", cs.BlockNum, err)
	}

	if cs.BlockNum > p.lastProcessed {
		p.lastProcessed = cs.BlockNum
	}
	return nil
}

// applyWithRetry применяет один change-set с повторами. Повторять
// безопасно: юнит идемпотентен с точностью до проверки ErrStaleUpdate.
func (p *Pipeline) applyWithRetry(ctx context.Context, cs *models.ChangeSet) error {
	// Юнит в работе доводится до конца даже при завершении: его
	// транзакция ограничена таймаутом хранилища проектора, а сигнал
	// завершения прерывает только ожидание между повторами
	unitCtx := context.WithoutCancel(ctx)
	return p.retry(ctx, func() error {
		err := p.projector.Apply(unitCtx, cs)
		if err == nil {
			return nil
		}
		if errors.Is(err, services.ErrStaleUpdate) {
			// Повторная/устаревшая доставка — штатный пропуск
			log.Printf("[Pipeline] Пропущен устаревший change-set '%s' блока %d (событие %s)",
				cs.RecordKey, cs.BlockNum, cs.EventID)
			return nil
		}
		log.Printf("[Pipeline] Ошибка применения change-set '%s' блока %d, будет повтор: %v",
			cs.RecordKey, cs.BlockNum, err)
		return err
	})
}

func (p *Pipeline) retry(ctx context.Context, op backoff.Operation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval
	bo.MaxInterval = p.cfg.RetryMaxInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.RetryMaxAttempts), ctx))
}

func (p *Pipeline) drain(ctx context.Context, buf *changeSetHeap) error {
	for buf.Len() > 0 {
		// Между юнитами уважаем сигнал завершения
		if ctx.Err() != nil {
			return nil
		}
		if err := p.applyNext(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, buf *changeSetHeap) error {
	log.Printf("[Pipeline] Лента событий закрыта, дожимаем буфер (%d событий)", buf.Len())
	if err := p.drain(ctx, buf); err != nil {
		return p.exitErr(ctx, err)
	}
	p.setState(StateCaughtUp)
	return nil
}

func (p *Pipeline) logResumePoints(ctx context.Context) {
	watermarks, err := p.watermarkRepo.List(ctx)
	if err != nil {
		log.Printf("[Pipeline] Не удалось прочитать watermark'и при старте: %v", err)
		return
	}
	if len(watermarks) == 0 {
		log.Printf("[Pipeline] Watermark'и отсутствуют, синхронизация с начала реестра")
		return
	}
	for _, wm := range watermarks {
		log.Printf("[Pipeline] Поток '%s' возобновляется после блока %d", wm.Stream, wm.LastBlockNum)
	}
}

// changeSetHeap — min-куча change-set'ов по номеру блока.
type changeSetHeap []*models.ChangeSet

func (h changeSetHeap) Len() int           { return len(h) }
func (h changeSetHeap) Less(i, j int) bool { return h[i].BlockNum < h[j].BlockNum }
func (h changeSetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *changeSetHeap) Push(x any) {
	*h = append(*h, x.(*models.ChangeSet))
}

func (h *changeSetHeap) Pop() any {
	old := *h
	n := len(old)
	cs := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return cs
}

// dropFrom выбрасывает из буфера события блоков blockNum и выше:
// они принадлежат откатываемой истории.
func (h *changeSetHeap) dropFrom(blockNum int64) int {
	kept := (*h)[:0]
	dropped := 0
	for _, cs := range *h {
		if cs.BlockNum >= blockNum {
			dropped++
			continue
		}
		kept = append(kept, cs)
	}
	*h = kept
	heap.Init(h)
	return dropped
}

// Кастомные ошибки конвейера.
var (
	ErrDeliveryGap = errors.New("разрыв доставки за пределами окна буферизации")
)
