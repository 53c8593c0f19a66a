package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/annel0/contraption-arena/internal/logging"
)

// StreamChannel надёжный канал поверх потока: кадр предваряется длиной
// в 4 байта (little endian). Обычно поток это yamux-стрим поверх KCP.
type StreamChannel struct {
	hooks
	conn   net.Conn
	logger *logging.Logger

	wmu  sync.Mutex
	open atomic.Bool
	once sync.Once
}

// NewStreamChannel оборачивает соединение и запускает чтение
func NewStreamChannel(conn net.Conn) *StreamChannel {
	sc := &StreamChannel{conn: conn, logger: logging.GetNetworkLogger()}
	sc.open.Store(true)
	go sc.readLoop()
	return sc
}

func (sc *StreamChannel) Send(frame []byte) error {
	if !sc.open.Load() {
		return ErrNotOpen
	}
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)

	sc.wmu.Lock()
	_, err := sc.conn.Write(buf)
	sc.wmu.Unlock()
	if err != nil {
		sc.shutdown(err)
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (sc *StreamChannel) readLoop() {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(sc.conn, header); err != nil {
			sc.shutdown(err)
			return
		}
		n := binary.LittleEndian.Uint32(header)
		if n > MaxFrameSize {
			sc.shutdown(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n))
			return
		}
		frame := make([]byte, n)
		if _, err := io.ReadFull(sc.conn, frame); err != nil {
			sc.shutdown(err)
			return
		}
		sc.deliver(frame)
	}
}

// shutdown закрывает соединение; EOF и локальное закрытие считаются
// штатным завершением
func (sc *StreamChannel) shutdown(err error) {
	sc.once.Do(func() {
		sc.open.Store(false)
		sc.conn.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			err = nil
		}
		if err != nil {
			sc.logger.Debug("Поток %s закрыт: %v", sc.conn.RemoteAddr(), err)
		}
		sc.fireClose(err)
	})
}

func (sc *StreamChannel) Close() error {
	sc.shutdown(nil)
	return nil
}

func (sc *StreamChannel) Reliable() bool { return true }
func (sc *StreamChannel) IsOpen() bool   { return sc.open.Load() }
