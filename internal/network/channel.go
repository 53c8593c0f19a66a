// Package network предоставляет каналы между хостом и клиентом (KCP с
// мультиплексированием yamux, UDP, WebSocket, память) и сессии, которые
// связывают эти каналы с циклом матча.
package network

import (
	"errors"
	"sync"

	"github.com/annel0/contraption-arena/internal/protocol"
)

// MaxFrameSize предел одного кадра на потоковых каналах
const MaxFrameSize = 1 << 20

// pendingLimit сколько кадров держится, пока не назначен обработчик
const pendingLimit = 64

var (
	// ErrNotOpen канал закрыт или не назначен
	ErrNotOpen = errors.New("channel is not open")
	// ErrFrameTooLarge кадр больше допустимого
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrQueueFull очередь отправки переполнена
	ErrQueueFull = errors.New("send queue full")
)

// Channel двунаправленный канал кадров. Кадр доставляется целиком или не
// доставляется вовсе; надёжность и порядок зависят от реализации.
type Channel interface {
	Send(frame []byte) error
	OnMessage(h func(frame []byte))
	OnClose(h func(err error))
	Close() error
	Reliable() bool
	IsOpen() bool
}

// hooks хранит обработчики канала. Кадры, пришедшие до назначения
// OnMessage, копятся в pending и отдаются при назначении.
type hooks struct {
	mu        sync.Mutex
	onMessage func([]byte)
	onClose   func(error)
	pending   [][]byte
	closed    bool
	closeErr  error
}

func (h *hooks) OnMessage(fn func([]byte)) {
	h.mu.Lock()
	h.onMessage = fn
	queued := h.pending
	h.pending = nil
	h.mu.Unlock()
	if fn == nil {
		return
	}
	for _, f := range queued {
		fn(f)
	}
}

// OnClose назначает обработчик закрытия. Если канал уже закрыт, обработчик
// вызывается сразу.
func (h *hooks) OnClose(fn func(error)) {
	h.mu.Lock()
	h.onClose = fn
	closed, err := h.closed, h.closeErr
	h.mu.Unlock()
	if closed && fn != nil {
		fn(err)
	}
}

func (h *hooks) deliver(frame []byte) {
	h.mu.Lock()
	fn := h.onMessage
	if fn == nil {
		if len(h.pending) < pendingLimit {
			h.pending = append(h.pending, frame)
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn(frame)
}

// fireClose вызывает обработчик закрытия один раз
func (h *hooks) fireClose(err error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.closeErr = err
	fn := h.onClose
	h.pending = nil
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// plainCompressor упаковщик без сжатия исходящих кадров
func plainCompressor() *protocol.Compressor {
	c, err := protocol.NewCompressor(false)
	if err != nil {
		panic(err)
	}
	return c
}
