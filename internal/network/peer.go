package network

import (
	"io"
	"sync"

	"github.com/annel0/contraption-arena/internal/logging"
)

// Peer удалённая сторона: надёжный канал управления и, если есть, канал
// состояния. Снимки идут по каналу состояния, а без него по управляющему.
type Peer struct {
	Remote string

	mu      sync.RWMutex
	control Channel
	state   Channel
	closers []io.Closer
	handler func([]byte)
	logger  *logging.Logger
}

// NewPeer собирает пира. state может быть nil; closers закрываются
// вместе с пиром (сессия yamux, KCP-сессия).
func NewPeer(remote string, control, state Channel, closers ...io.Closer) *Peer {
	return &Peer{
		Remote:  remote,
		control: control,
		state:   state,
		closers: closers,
		logger:  logging.GetNetworkLogger(),
	}
}

// SetState заменяет канал состояния, например после привязки UDP адреса
func (p *Peer) SetState(ch Channel) {
	p.mu.Lock()
	old := p.state
	p.state = ch
	h := p.handler
	p.mu.Unlock()
	if old != nil && old != ch {
		old.Close()
	}
	if ch != nil && h != nil {
		ch.OnMessage(h)
	}
}

// OnMessage назначает обработчик кадров с обоих каналов
func (p *Peer) OnMessage(h func([]byte)) {
	p.mu.Lock()
	p.handler = h
	control, state := p.control, p.state
	p.mu.Unlock()
	if control != nil {
		control.OnMessage(h)
	}
	if state != nil {
		state.OnMessage(h)
	}
}

// OnClose срабатывает при закрытии управляющего канала: без него пир
// считается отключённым
func (p *Peer) OnClose(h func(error)) {
	if p.control != nil {
		p.control.OnClose(h)
	}
}

// SendControl отправляет кадр по надёжному каналу. Закрытый канал даёт
// предупреждение и ErrNotOpen, отправка не выполняется.
func (p *Peer) SendControl(frame []byte) error {
	p.mu.RLock()
	ch := p.control
	p.mu.RUnlock()
	if ch == nil || !ch.IsOpen() {
		p.logger.Warn("Отправка %s пропущена: управляющий канал закрыт", p.Remote)
		return ErrNotOpen
	}
	return ch.Send(frame)
}

// SendState отправляет кадр состояния
func (p *Peer) SendState(frame []byte) error {
	p.mu.RLock()
	ch := p.state
	p.mu.RUnlock()
	if ch != nil && ch.IsOpen() {
		return ch.Send(frame)
	}
	return p.SendControl(frame)
}

// HasUnreliable есть ли открытый ненадёжный канал состояния
func (p *Peer) HasUnreliable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != nil && p.state.IsOpen() && !p.state.Reliable()
}

func (p *Peer) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.control != nil && p.control.IsOpen()
}

// Close закрывает оба канала и связанные ресурсы
func (p *Peer) Close() error {
	p.mu.Lock()
	control, state, closers := p.control, p.state, p.closers
	p.closers = nil
	p.mu.Unlock()

	if state != nil {
		state.Close()
	}
	var err error
	if control != nil {
		err = control.Close()
	}
	for _, c := range closers {
		c.Close()
	}
	return err
}
