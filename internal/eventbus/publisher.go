package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/contraption-arena/internal/logging"
)

// Publisher публикует события матча из горячего цикла: Emit не блокирует,
// отправка идёт в своей горутине в порядке Emit. При переполнении очереди
// события отбрасываются с предупреждением.
type Publisher struct {
	bus     EventBus
	source  string
	matchID string
	logger  *logging.Logger

	mu     sync.Mutex
	closed bool
	queue  chan *Envelope
	done   chan struct{}
}

// NewPublisher создаёт публикатор и запускает горутину отправки.
// bus == nil даёт публикатор, который ничего не делает.
func NewPublisher(bus EventBus, source, matchID string, size int) *Publisher {
	if size <= 0 {
		size = 64
	}
	p := &Publisher{
		bus:     bus,
		source:  source,
		matchID: matchID,
		logger:  logging.GetComponentLogger("eventbus"),
		queue:   make(chan *Envelope, size),
		done:    make(chan struct{}),
	}
	if bus == nil {
		close(p.done)
		return p
	}
	go p.loop()
	return p
}

// Emit ставит событие в очередь
func (p *Publisher) Emit(eventType string, payload any) {
	if p.bus == nil {
		return
	}
	ev, err := NewEnvelope(p.source, eventType, p.matchID, payload)
	if err != nil {
		p.logger.Warn("Событие %s не сериализовано: %v", eventType, err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.logger.Warn("Очередь событий заполнена, %s отброшено", eventType)
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := p.bus.Publish(ctx, ev); err != nil {
			p.logger.Warn("Публикация %s: %v", ev.EventType, err)
		}
		cancel()
	}
}

// Close дожидается отправки поставленных событий
func (p *Publisher) Close() {
	if p.bus == nil {
		return
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
