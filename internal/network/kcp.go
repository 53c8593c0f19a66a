package network

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/contraption-arena/internal/logging"
)

// tuneSession настраивает KCP параметры для игрового трафика
func tuneSession(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	conn.SetWindowSize(512, 512) // Увеличиваем окно для пропускной способности
	conn.SetMtu(1400)            // Стандартный MTU для интернета
}

func muxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	cfg.KeepAliveInterval = 10 * time.Second
	cfg.StreamOpenTimeout = 10 * time.Second
	return cfg
}

// KCPListener принимает KCP-сессии. Каждая сессия несёт yamux с двумя
// стримами: первый управляющий, второй для снимков.
type KCPListener struct {
	ln     *kcp.Listener
	logger *logging.Logger
}

// ListenKCP слушает addr
func ListenKCP(addr string) (*KCPListener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to listen KCP on %s: %w", addr, err)
	}
	return &KCPListener{ln: ln, logger: logging.GetNetworkLogger()}, nil
}

// Addr адрес слушателя
func (l *KCPListener) Addr() net.Addr { return l.ln.Addr() }

// Accept ждёт сессию и оба её стрима
func (l *KCPListener) Accept() (*Peer, error) {
	conn, err := l.ln.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneSession(conn)
	remote := conn.RemoteAddr().String()

	mux, err := yamux.Server(conn, muxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("yamux server %s: %w", remote, err)
	}
	control, err := mux.AcceptStream()
	if err != nil {
		mux.Close()
		conn.Close()
		return nil, fmt.Errorf("control stream %s: %w", remote, err)
	}
	state, err := mux.AcceptStream()
	if err != nil {
		mux.Close()
		conn.Close()
		return nil, fmt.Errorf("state stream %s: %w", remote, err)
	}

	l.logger.Info("KCP сессия принята: addr=%s", remote)
	return NewPeer(remote, NewStreamChannel(control), NewStreamChannel(state), mux, conn), nil
}

// Close закрывает слушатель
func (l *KCPListener) Close() error { return l.ln.Close() }

// DialKCP подключается к хосту и открывает управляющий стрим и стрим снимков
func DialKCP(ctx context.Context, addr string) (*Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	tuneSession(conn)

	mux, err := yamux.Client(conn, muxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("yamux client %s: %w", addr, err)
	}
	control, err := mux.OpenStream()
	if err != nil {
		mux.Close()
		conn.Close()
		return nil, fmt.Errorf("control stream %s: %w", addr, err)
	}
	state, err := mux.OpenStream()
	if err != nil {
		mux.Close()
		conn.Close()
		return nil, fmt.Errorf("state stream %s: %w", addr, err)
	}
	logging.GetNetworkLogger().Info("KCP канал подключён: addr=%s", addr)
	return NewPeer(addr, NewStreamChannel(control), NewStreamChannel(state), mux, conn), nil
}
