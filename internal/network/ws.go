package network

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/contraption-arena/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Конфигурация WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // браузерный клиент может жить на другом origin
	},
}

// WSChannel канал поверх WebSocket. Управление и снимки идут в одном
// соединении бинарными сообщениями и различаются байтом заголовка кадра.
type WSChannel struct {
	hooks
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	open   atomic.Bool
	once   sync.Once
	logger *logging.Logger
}

// NewWSChannel оборачивает соединение и запускает чтение и запись
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	wc := &WSChannel{
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: logging.GetNetworkLogger(),
	}
	wc.open.Store(true)
	go wc.readPump()
	go wc.writePump()
	return wc
}

// Send ставит кадр в очередь записи. Переполненная очередь означает, что
// клиент не успевает читать; кадр отбрасывается.
func (wc *WSChannel) Send(frame []byte) error {
	if !wc.open.Load() {
		return ErrNotOpen
	}
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	select {
	case wc.send <- frame:
		return nil
	case <-wc.done:
		return ErrNotOpen
	default:
		return ErrQueueFull
	}
}

func (wc *WSChannel) readPump() {
	wc.conn.SetReadLimit(MaxFrameSize + 1)
	wc.conn.SetReadDeadline(time.Now().Add(pongWait))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		typ, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wc.shutdown(err)
				return
			}
			wc.shutdown(nil)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		wc.deliver(data)
	}
}

func (wc *WSChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-wc.send:
			wc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wc.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				wc.shutdown(err)
				return
			}
		case <-ticker.C:
			wc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				wc.shutdown(err)
				return
			}
		case <-wc.done:
			wc.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			wc.conn.Close()
			return
		}
	}
}

func (wc *WSChannel) shutdown(err error) {
	wc.once.Do(func() {
		wc.open.Store(false)
		close(wc.done)
		if err != nil {
			wc.logger.Debug("WebSocket %s закрыт: %v", wc.conn.RemoteAddr(), err)
			wc.conn.Close()
		}
		wc.fireClose(err)
	})
}

func (wc *WSChannel) Close() error {
	wc.shutdown(nil)
	return nil
}

func (wc *WSChannel) Reliable() bool { return true }
func (wc *WSChannel) IsOpen() bool   { return wc.open.Load() }

// WSHandler апгрейдит HTTP-запрос и отдаёт пира в accept
func WSHandler(accept func(*Peer)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.GetNetworkLogger().Warn("WebSocket upgrade %s: %v", r.RemoteAddr, err)
			return
		}
		accept(NewPeer(r.RemoteAddr, NewWSChannel(conn), nil))
	}
}

// DialWS подключается к хосту по WebSocket
func DialWS(ctx context.Context, url string) (*Peer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewPeer(url, NewWSChannel(conn), nil), nil
}
