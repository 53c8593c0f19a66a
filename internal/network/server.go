package network

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"

	"github.com/google/uuid"

	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/match"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/storage"
)

// ErrMatchFull обе стороны уже заняты
var ErrMatchFull = errors.New("both teams are taken")

// ServerOptions общие параметры сессий
type ServerOptions struct {
	CommandRate int
	Compressor  *protocol.Compressor
	Metrics     *Metrics
}

// Server принимает пиров с любых транспортов и раздаёт им стороны матча.
// Первый пир играет за команду 0, второй за команду 1.
type Server struct {
	loop   *match.Loop
	repo   storage.BlueprintRepo
	opts   ServerOptions
	logger *logging.Logger

	mu       gosync.Mutex
	sessions map[string]*HostSession
	teams    [2]*HostSession
}

// NewServer создаёт сервер матча
func NewServer(loop *match.Loop, repo storage.BlueprintRepo, opts ServerOptions) *Server {
	if opts.Compressor == nil {
		opts.Compressor = plainCompressor()
	}
	return &Server{
		loop:     loop,
		repo:     repo,
		opts:     opts,
		logger:   logging.GetNetworkLogger(),
		sessions: make(map[string]*HostSession),
	}
}

// Accept назначает пиру свободную сторону и подключает его к матчу
func (s *Server) Accept(peer *Peer) (*HostSession, error) {
	s.mu.Lock()
	team := -1
	for t := range s.teams {
		if s.teams[t] == nil {
			team = t
			break
		}
	}
	if team < 0 {
		s.mu.Unlock()
		s.logger.Warn("Пир %s отклонён: матч заполнен", peer.Remote)
		peer.Close()
		return nil, ErrMatchFull
	}
	sess := NewHostSession(peer, s.loop, s.repo, HostOptions{
		Team:        team,
		Token:       uuid.NewString(),
		CommandRate: s.opts.CommandRate,
		Compressor:  s.opts.Compressor,
		Metrics:     s.opts.Metrics,
	})
	sess.OnClose = s.release
	s.teams[team] = sess
	s.sessions[sess.Token()] = sess
	s.mu.Unlock()

	if !sess.Start() {
		s.logger.Warn("Пир %s подключён, но цикл матча не принял его", peer.Remote)
	}
	s.logger.Info("Пир %s занял команду %d", peer.Remote, team)
	return sess, nil
}

func (s *Server) release(sess *HostSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.Token())
	if s.teams[sess.Team()] == sess {
		s.teams[sess.Team()] = nil
	}
}

// Sessions количество подключённых пиров
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ServeKCP принимает KCP-сессии до отмены ctx
func (s *Server) ServeKCP(ctx context.Context, l *KCPListener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		peer, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("KCP accept: %v", err)
			continue
		}
		s.Accept(peer)
	}
}

// ServeUDP привязывает датаграммные каналы к сессиям по токену из первой
// датаграммы
func (s *Server) ServeUDP(ctx context.Context, l *DatagramListener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	return l.Serve(func(ch *DatagramChannel, first []byte) bool {
		sess := s.bindTarget(first)
		if sess == nil {
			s.opts.Metrics.malformed()
			return false
		}
		sess.BindState(ch)
		return true
	})
}

func (s *Server) bindTarget(frame []byte) *HostSession {
	kind, payload, err := s.opts.Compressor.Unpack(frame)
	if err != nil || kind != protocol.FrameControl {
		return nil
	}
	env, err := protocol.DecodeEnvelope(payload)
	if err != nil || env.T != protocol.MsgBind {
		return nil
	}
	bind, err := protocol.DecodePayload[protocol.Bind](env)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[bind.Token]
}

// WSHandler HTTP-обработчик для браузерных пиров
func (s *Server) WSHandler() http.Handler {
	return WSHandler(func(p *Peer) { s.Accept(p) })
}

// Close отключает всех пиров
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*HostSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// BindUDP привязывает клиентский датаграммный канал к сессии на хосте
func BindUDP(ch *DatagramChannel, comp *protocol.Compressor, token string) error {
	if comp == nil {
		comp = plainCompressor()
	}
	data, err := protocol.Encode(protocol.MsgBind, protocol.Bind{Token: token})
	if err != nil {
		return err
	}
	return ch.Send(comp.Pack(protocol.FrameControl, data))
}
