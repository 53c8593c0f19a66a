package network

import (
	gosync "sync"
	"time"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/sync"
)

// ClientSession сторона клиента: складывает снимки в буфер и отдаёт
// интерполированный кадр для отрисовки.
type ClientSession struct {
	peer    *Peer
	comp    *protocol.Compressor
	buffer  *sync.SnapshotBuffer
	interp  *sync.Interpolator
	metrics *Metrics
	logger  *logging.Logger

	started time.Time
	clock   func() time.Duration

	mu      gosync.Mutex
	match   *protocol.MatchStart
	baseHP  [2]int
	result  *protocol.MatchEnd
	rtt     time.Duration
	onStart func(protocol.MatchStart)

	acks chan protocol.SpawnAck
}

// NewClientSession создаёт сессию клиента поверх пира
func NewClientSession(peer *Peer, cfg *config.Config, comp *protocol.Compressor, metrics *Metrics) *ClientSession {
	if comp == nil {
		comp = plainCompressor()
	}
	buf := sync.NewSnapshotBuffer(cfg.Interp, cfg.Sync.SendRate)
	cs := &ClientSession{
		peer:    peer,
		comp:    comp,
		buffer:  buf,
		interp:  sync.NewInterpolator(buf, cfg.Interp),
		metrics: metrics,
		logger:  logging.GetNetworkLogger(),
		started: time.Now(),
		acks:    make(chan protocol.SpawnAck, 8),
	}
	cs.clock = func() time.Duration { return time.Since(cs.started) }
	return cs
}

// SetClock подменяет часы клиента; время отсчитывается от начала сессии
func (cs *ClientSession) SetClock(clock func() time.Duration) {
	cs.clock = clock
}

// OnMatchStart вызывается при получении параметров матча
func (cs *ClientSession) OnMatchStart(fn func(protocol.MatchStart)) {
	cs.mu.Lock()
	cs.onStart = fn
	cs.mu.Unlock()
}

// Start назначает обработчики и здоровается с хостом
func (cs *ClientSession) Start(hello protocol.Hello) error {
	cs.peer.OnMessage(cs.handleFrame)
	cs.peer.OnClose(func(err error) {
		cs.logger.Info("Соединение с хостом закрыто: %v", err)
	})
	return cs.send(protocol.MsgHello, hello)
}

func (cs *ClientSession) send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return cs.peer.SendControl(cs.comp.Pack(protocol.FrameControl, data))
}

// SendInput передаёт ввод привода
func (cs *ClientSession) SendInput(drive float64) error {
	return cs.send(protocol.MsgInput, protocol.Input{Drive: drive})
}

// Spawn просит выпустить контрапцию из слота колоды; ответ придёт в SpawnAcks
func (cs *ClientSession) Spawn(slot int) error {
	return cs.send(protocol.MsgSpawn, protocol.Spawn{Slot: slot})
}

// Ping замеряет задержку до хоста
func (cs *ClientSession) Ping() error {
	return cs.send(protocol.MsgPing, protocol.Ping{Sent: time.Now().UnixNano()})
}

// SpawnAcks ответы на Spawn
func (cs *ClientSession) SpawnAcks() <-chan protocol.SpawnAck { return cs.acks }

func (cs *ClientSession) handleFrame(frame []byte) {
	kind, payload, err := cs.comp.Unpack(frame)
	if err != nil {
		cs.metrics.malformed()
		logging.LogProtocolError(cs.logger, cs.peer.Remote, err, frame)
		return
	}
	switch kind {
	case protocol.FrameSnapshot:
		snap, err := protocol.DecodeSnapshot(payload)
		if err != nil {
			cs.metrics.malformed()
			logging.LogProtocolError(cs.logger, cs.peer.Remote, err, payload)
			return
		}
		if !cs.buffer.Push(snap, cs.clock()) {
			cs.logger.Trace("Снимок %d устарел", snap.Seq)
		}
	case protocol.FrameControl:
		if err := cs.handleControl(payload); err != nil {
			cs.metrics.malformed()
			logging.LogProtocolError(cs.logger, cs.peer.Remote, err, payload)
		}
	}
}

func (cs *ClientSession) handleControl(payload []byte) error {
	env, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		return err
	}
	switch env.T {
	case protocol.MsgMatchStart:
		ms, err := protocol.DecodePayload[protocol.MatchStart](env)
		if err != nil {
			return err
		}
		cs.mu.Lock()
		cs.match = &ms
		cs.baseHP = [2]int{ms.BaseHP, ms.BaseHP}
		fn := cs.onStart
		cs.mu.Unlock()
		cs.logger.Info("Матч %s: играем за команду %d", ms.MatchID, ms.Team)
		if fn != nil {
			fn(ms)
		}
	case protocol.MsgBaseHP:
		hp, err := protocol.DecodePayload[protocol.BaseHP](env)
		if err != nil {
			return err
		}
		if hp.Team == 0 || hp.Team == 1 {
			cs.mu.Lock()
			cs.baseHP[hp.Team] = hp.HP
			cs.mu.Unlock()
		}
	case protocol.MsgMatchEnd:
		end, err := protocol.DecodePayload[protocol.MatchEnd](env)
		if err != nil {
			return err
		}
		cs.mu.Lock()
		cs.result = &end
		cs.mu.Unlock()
	case protocol.MsgSpawnAck:
		ack, err := protocol.DecodePayload[protocol.SpawnAck](env)
		if err != nil {
			return err
		}
		select {
		case cs.acks <- ack:
		default:
			cs.logger.Warn("Ответ на выпуск слота %d потерян: очередь полна", ack.Slot)
		}
	case protocol.MsgPong:
		pong, err := protocol.DecodePayload[protocol.Ping](env)
		if err != nil {
			return err
		}
		cs.mu.Lock()
		cs.rtt = time.Since(time.Unix(0, pong.Sent))
		cs.mu.Unlock()
	default:
		cs.logger.Debug("Пропущено сообщение %q", env.T)
	}
	return nil
}

// Frame интерполированное состояние на момент now по часам клиента
func (cs *ClientSession) Frame(now time.Duration) []sync.RenderBody {
	bodies := cs.interp.Frame(now)
	cs.metrics.client(cs.interp.Delay().Seconds(), cs.buffer.Len())
	return bodies
}

// BindUDP переводит снимки на датаграммный канал: шлёт токен из MatchStart
// и назначает канал каналом состояния пира
func (cs *ClientSession) BindUDP(dg *DatagramChannel, token string) error {
	cs.peer.SetState(dg)
	return BindUDP(dg, cs.comp, token)
}

// Delay задержка интерполяции последнего кадра
func (cs *ClientSession) Delay() time.Duration { return cs.interp.Delay() }

// Now текущее время по часам клиента
func (cs *ClientSession) Now() time.Duration { return cs.clock() }

// Mode режим последнего кадра
func (cs *ClientSession) Mode() sync.Mode { return cs.interp.Mode() }

// Buffer буфер снимков
func (cs *ClientSession) Buffer() *sync.SnapshotBuffer { return cs.buffer }

// Match параметры матча, если хост их уже прислал
func (cs *ClientSession) Match() (protocol.MatchStart, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.match == nil {
		return protocol.MatchStart{}, false
	}
	return *cs.match, true
}

// BaseHP последнее известное HP баз
func (cs *ClientSession) BaseHP() [2]int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.baseHP
}

// Result итог матча, если он завершён
func (cs *ClientSession) Result() (protocol.MatchEnd, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.result == nil {
		return protocol.MatchEnd{}, false
	}
	return *cs.result, true
}

// RTT последний замер задержки
func (cs *ClientSession) RTT() time.Duration {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.rtt
}

// Close закрывает соединение
func (cs *ClientSession) Close() error { return cs.peer.Close() }
