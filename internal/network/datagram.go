package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/annel0/contraption-arena/internal/logging"
)

// maxDatagram предел полезной нагрузки UDP
const maxDatagram = 65507

// DatagramChannel ненадёжный неупорядоченный канал: один кадр на датаграмму
type DatagramChannel struct {
	hooks
	conn   net.PacketConn
	remote net.Addr
	owner  *DatagramListener // nil на стороне клиента
	open   atomic.Bool
	once   sync.Once
}

func newDatagramChannel(conn net.PacketConn, remote net.Addr, owner *DatagramListener) *DatagramChannel {
	dc := &DatagramChannel{conn: conn, remote: remote, owner: owner}
	dc.open.Store(true)
	return dc
}

// RemoteAddr адрес другой стороны
func (dc *DatagramChannel) RemoteAddr() net.Addr { return dc.remote }

func (dc *DatagramChannel) Send(frame []byte) error {
	if !dc.open.Load() {
		return ErrNotOpen
	}
	if len(frame) > maxDatagram {
		return ErrFrameTooLarge
	}
	_, err := dc.conn.WriteTo(frame, dc.remote)
	return err
}

func (dc *DatagramChannel) Close() error {
	dc.shutdown(nil)
	return nil
}

func (dc *DatagramChannel) shutdown(err error) {
	dc.once.Do(func() {
		dc.open.Store(false)
		if dc.owner != nil {
			dc.owner.forget(dc.remote)
		} else {
			dc.conn.Close()
		}
		dc.fireClose(err)
	})
}

func (dc *DatagramChannel) Reliable() bool { return false }
func (dc *DatagramChannel) IsOpen() bool   { return dc.open.Load() }

// DialUDP открывает клиентский датаграммный канал к addr
func DialUDP(addr string) (*DatagramChannel, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, err
	}
	dc := newDatagramChannel(conn, raddr, nil)
	go dc.readLoop()
	return dc, nil
}

// readLoop клиента: принимает датаграммы только от хоста
func (dc *DatagramChannel) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := dc.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			dc.shutdown(err)
			return
		}
		if from.String() != dc.remote.String() {
			continue
		}
		dc.deliver(append([]byte(nil), buf[:n]...))
	}
}

// DatagramListener разводит датаграммы одного сокета по каналам удалённых
// адресов
type DatagramListener struct {
	conn   net.PacketConn
	logger *logging.Logger

	mu    sync.Mutex
	chans map[string]*DatagramChannel
}

// ListenUDP слушает addr
func ListenUDP(addr string) (*DatagramListener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen UDP on %s: %w", addr, err)
	}
	return &DatagramListener{
		conn:   conn,
		logger: logging.GetNetworkLogger(),
		chans:  make(map[string]*DatagramChannel),
	}, nil
}

// Addr адрес слушателя
func (l *DatagramListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve читает сокет до закрытия. Первая датаграмма нового адреса
// передаётся accept; канал остаётся, только если accept вернул true,
// иначе датаграмма отбрасывается.
func (l *DatagramListener) Serve(accept func(ch *DatagramChannel, first []byte) bool) error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			l.closeAll()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		frame := append([]byte(nil), buf[:n]...)
		key := from.String()

		l.mu.Lock()
		ch, ok := l.chans[key]
		l.mu.Unlock()
		if ok {
			ch.deliver(frame)
			continue
		}

		ch = newDatagramChannel(l.conn, from, l)
		if !accept(ch, frame) {
			l.logger.Debug("Датаграмма от %s отброшена", key)
			continue
		}
		l.mu.Lock()
		l.chans[key] = ch
		l.mu.Unlock()
	}
}

func (l *DatagramListener) forget(addr net.Addr) {
	l.mu.Lock()
	delete(l.chans, addr.String())
	l.mu.Unlock()
}

func (l *DatagramListener) closeAll() {
	l.mu.Lock()
	chans := make([]*DatagramChannel, 0, len(l.chans))
	for _, ch := range l.chans {
		chans = append(chans, ch)
	}
	l.mu.Unlock()
	for _, ch := range chans {
		ch.Close()
	}
}

// Close закрывает сокет; Serve вернётся
func (l *DatagramListener) Close() error { return l.conn.Close() }
