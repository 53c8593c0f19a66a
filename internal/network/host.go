package network

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/match"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/storage"
)

const (
	submitTimeout = time.Second
	spawnTimeout  = 2 * time.Second
	defaultDeck   = "default"
)

// HostOptions параметры сессии хоста
type HostOptions struct {
	Team        int
	Token       string
	Deck        string
	CommandRate int // команд в секунду; 0 без ограничения
	Compressor  *protocol.Compressor
	Metrics     *Metrics
}

// HostSession связывает пира с циклом матча: отправляет снимки и
// управляющие сообщения, принимает команды. Реализует match.Sink.
// Отключение пира не останавливает матч.
type HostSession struct {
	peer    *Peer
	loop    *match.Loop
	repo    storage.BlueprintRepo
	opts    HostOptions
	limiter *rate.Limiter
	logger  *logging.Logger

	name   atomic.Value // string
	deck   atomic.Value // string
	closed atomic.Bool

	// OnClose вызывается после отключения пира
	OnClose func(*HostSession)
}

// NewHostSession создаёт сессию; Start подключает её к циклу
func NewHostSession(peer *Peer, loop *match.Loop, repo storage.BlueprintRepo, opts HostOptions) *HostSession {
	s := &HostSession{
		peer:   peer,
		loop:   loop,
		repo:   repo,
		opts:   opts,
		logger: logging.GetNetworkLogger(),
	}
	if opts.Compressor == nil {
		opts.Compressor = plainCompressor()
		s.opts = opts
	}
	if opts.CommandRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), opts.CommandRate)
	}
	deck := opts.Deck
	if deck == "" {
		deck = defaultDeck
	}
	s.deck.Store(deck)
	s.name.Store(peer.Remote)
	return s
}

// Team сторона пира
func (s *HostSession) Team() int { return s.opts.Team }

// Token привязки датаграммного канала
func (s *HostSession) Token() string { return s.opts.Token }

// Name имя из Hello или адрес пира
func (s *HostSession) Name() string { return s.name.Load().(string) }

// Peer удалённая сторона
func (s *HostSession) Peer() *Peer { return s.peer }

// Start назначает обработчики, сообщает параметры матча и подключает
// сессию к рассылке снимков
func (s *HostSession) Start() bool {
	s.peer.OnMessage(s.handleFrame)
	s.peer.OnClose(func(err error) { s.disconnect(err) })

	mc := s.loop.Context()
	cfg := mc.Config()
	s.SendControl(protocol.MsgMatchStart, protocol.MatchStart{
		MatchID:  mc.ID,
		Team:     s.opts.Team,
		Width:    mc.Arena.Width,
		Height:   mc.Arena.Height,
		GridSize: cfg.Arena.GridSize,
		SendRate: cfg.Sync.SendRate,
		BaseHP:   cfg.Arena.BaseHP,
		Token:    s.opts.Token,
	})
	s.opts.Metrics.peers(1)
	return s.loop.Submit(match.AttachCmd{Sink: s}, submitTimeout)
}

// BindState подключает датаграммный канал для снимков
func (s *HostSession) BindState(ch Channel) {
	s.peer.SetState(ch)
	s.logger.Info("Пир %s получает снимки по ненадёжному каналу", s.Name())
}

// SendSnapshot кодирует и отправляет снимок. Вызывается из цикла матча.
func (s *HostSession) SendSnapshot(snap *protocol.Snapshot) {
	if s.closed.Load() {
		return
	}
	data := protocol.EncodeSnapshot(snap)
	frame := s.opts.Compressor.Pack(protocol.FrameSnapshot, data)
	if err := s.peer.SendState(frame); err != nil {
		s.logger.Debug("Снимок %d для %s не отправлен: %v", snap.Seq, s.Name(), err)
		return
	}
	geometry := 0
	for i := range snap.Bodies {
		if snap.Bodies[i].HasGeometry {
			geometry++
		}
	}
	s.opts.Metrics.snapshot(len(frame), geometry)
}

// SendControl отправляет управляющее сообщение по надёжному каналу
func (s *HostSession) SendControl(msgType string, payload any) {
	if s.closed.Load() {
		return
	}
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("Не удалось закодировать %s: %v", msgType, err)
		return
	}
	s.peer.SendControl(s.opts.Compressor.Pack(protocol.FrameControl, data))
}

// handleFrame разбирает входящий кадр. Нераспознанные сообщения
// отбрасываются с предупреждением.
func (s *HostSession) handleFrame(frame []byte) {
	kind, payload, err := s.opts.Compressor.Unpack(frame)
	if err == nil && kind != protocol.FrameControl {
		err = protocol.ErrMalformed
	}
	var env protocol.Envelope
	if err == nil {
		env, err = protocol.DecodeEnvelope(payload)
	}
	if err != nil {
		s.opts.Metrics.malformed()
		logging.LogProtocolError(s.logger, s.Name(), err, frame)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.opts.Metrics.throttled()
		s.logger.Warn("Команда %s от %s отброшена: превышена частота", env.T, s.Name())
		return
	}
	if err := s.dispatch(env); err != nil {
		s.opts.Metrics.malformed()
		logging.LogProtocolError(s.logger, s.Name(), err, payload)
	}
}

func (s *HostSession) dispatch(env protocol.Envelope) error {
	switch env.T {
	case protocol.MsgHello:
		hello, err := protocol.DecodePayload[protocol.Hello](env)
		if err != nil {
			return err
		}
		if hello.Name != "" {
			s.name.Store(hello.Name)
		}
		if hello.Deck != "" {
			s.deck.Store(hello.Deck)
		}
		s.logger.Info("Пир %s играет за команду %d (колода %s)", s.Name(), s.opts.Team, s.deck.Load())

	case protocol.MsgInput:
		in, err := protocol.DecodePayload[protocol.Input](env)
		if err != nil {
			return err
		}
		if !s.loop.Submit(match.InputCmd{Team: s.opts.Team, Drive: in.Drive}, submitTimeout) {
			s.logger.Warn("Ввод от %s не принят: цикл занят", s.Name())
		}

	case protocol.MsgSpawn:
		req, err := protocol.DecodePayload[protocol.Spawn](env)
		if err != nil {
			return err
		}
		s.spawn(req.Slot)

	case protocol.MsgPing:
		ping, err := protocol.DecodePayload[protocol.Ping](env)
		if err != nil {
			return err
		}
		s.SendControl(protocol.MsgPong, ping)

	default:
		s.logger.Warn("Неизвестное сообщение %q от %s", env.T, s.Name())
		s.opts.Metrics.malformed()
	}
	return nil
}

// spawn собирает контрапцию из колоды и отдаёт её циклу, ожидая ответа
func (s *HostSession) spawn(slot int) {
	ack := protocol.SpawnAck{Slot: slot}
	ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
	defer cancel()

	c, err := storage.SpawnFromDeck(ctx, s.repo, s.deck.Load().(string), slot, s.opts.Team)
	if err == nil {
		reply := make(chan error, 1)
		if !s.loop.Submit(match.SpawnCmd{Contraption: c, Reply: reply}, submitTimeout) {
			err = match.ErrMatchStopped
		} else {
			select {
			case err = <-reply:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}
	if err != nil {
		ack.Error = err.Error()
		s.logger.Warn("Выпуск слота %d для %s отклонён: %v", slot, s.Name(), err)
	} else {
		ack.ContraptionID = c.ID
	}
	s.SendControl(protocol.MsgSpawnAck, ack)
}

func (s *HostSession) disconnect(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.opts.Metrics.peers(-1)
	if err != nil {
		s.logger.Warn("Пир %s отключился: %v", s.Name(), err)
	} else {
		s.logger.Info("Пир %s отключился", s.Name())
	}
	s.loop.Submit(match.DetachCmd{Sink: s}, submitTimeout)
	s.peer.Close()
	if s.OnClose != nil {
		s.OnClose(s)
	}
}

// Close отключает пира
func (s *HostSession) Close() error {
	return s.peer.Close()
}
