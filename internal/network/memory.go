package network

import (
	"sync"
)

// PipeOptions поведение MemoryPipe для тестов ненадёжной доставки
type PipeOptions struct {
	// Reliable что сообщать через Reliable()
	Reliable bool
	// Drop решает по номеру отправки (с нуля), потерять ли кадр
	Drop func(n int) bool
	// Reorder меняет местами каждую пару соседних кадров
	Reorder bool
}

// PipeEnd конец канала в памяти. Доставка синхронная: Send вызывает
// обработчик другого конца в той же горутине.
type PipeEnd struct {
	hooks
	opts PipeOptions
	peer *PipeEnd

	mu   sync.Mutex
	open bool
	sent int
	held []byte
}

// MemoryPipe создаёт пару связанных концов
func MemoryPipe(opts PipeOptions) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{opts: opts, open: true}
	b := &PipeEnd{opts: opts, open: true}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Send(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrNotOpen
	}
	n := p.sent
	p.sent++
	if p.opts.Drop != nil && p.opts.Drop(n) {
		p.mu.Unlock()
		return nil
	}
	cp := append([]byte(nil), frame...)
	out := [][]byte{cp}
	if p.opts.Reorder {
		if p.held == nil {
			p.held = cp
			p.mu.Unlock()
			return nil
		}
		out = [][]byte{cp, p.held}
		p.held = nil
	}
	p.mu.Unlock()

	for _, f := range out {
		if !p.peer.IsOpen() {
			return nil
		}
		p.peer.deliver(f)
	}
	return nil
}

func (p *PipeEnd) Close() error {
	if !p.shut() {
		return nil
	}
	p.peer.shut()
	p.fireClose(nil)
	p.peer.fireClose(nil)
	return nil
}

func (p *PipeEnd) shut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return false
	}
	p.open = false
	p.held = nil
	return true
}

func (p *PipeEnd) Reliable() bool { return p.opts.Reliable }

func (p *PipeEnd) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}
