package match

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/eventbus"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/observability"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/sync"
	"github.com/annel0/contraption-arena/internal/world"
)

// State состояние цикла
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Причины завершения
const (
	ReasonBase        = "base"
	ReasonElimination = "elimination"
	ReasonStopped     = "stopped"
)

// Result итог матча. Winner равен -1 при ничьей или остановке.
type Result struct {
	Winner int
	Tie    bool
	Reason string
	Tick   uint64
}

// Sink получатель состояния матча: сетевая сессия хоста или тест.
type Sink interface {
	SendSnapshot(s *protocol.Snapshot)
	SendControl(msgType string, payload any)
}

// Loop шаг фиксированной длины поверх Context. Однопоточный: все методы
// вызываются из одной горутины, обычно из Run.
type Loop struct {
	ctx   *Context
	cfg   *config.Config
	state State

	step      time.Duration
	maxSteps  int
	acc       time.Duration
	syncEvery time.Duration
	syncAcc   time.Duration

	builder *sync.SnapshotBuilder
	sinks   []Sink

	baseDown   [2]bool
	eliminated [2]time.Duration
	out        [2]bool
	announced  map[string]struct{}
	result     *Result

	events *eventbus.Publisher
	tracer trace.Tracer
	span   trace.Span
	logger *logging.Logger

	// Inbox команды из других горутин; обрабатываются в Run
	Inbox chan any

	// OnEnd вызывается один раз при завершении матча
	OnEnd func(Result)
}

// NewLoop создаёт цикл матча. bus может быть nil.
func NewLoop(cfg *config.Config, mc *Context, bus eventbus.EventBus) *Loop {
	l := &Loop{
		ctx:       mc,
		cfg:       cfg,
		step:      cfg.Arena.TickDuration(),
		maxSteps:  cfg.Arena.MaxSteps,
		builder:   sync.NewSnapshotBuilder(cfg.Sync),
		announced: make(map[string]struct{}),
		events:    eventbus.NewPublisher(bus, "host", mc.ID, 128),
		tracer:    observability.Tracer("match"),
		logger:    logging.GetMatchLogger(),
		Inbox:     make(chan any, 256),
	}
	if l.maxSteps <= 0 {
		l.maxSteps = 1
	}
	if cfg.Sync.SendRate > 0 {
		l.syncEvery = time.Second / time.Duration(cfg.Sync.SendRate)
	}
	mc.Resolver.OnBaseHit = l.onBaseHit
	mc.Resolver.OnBaseDestroyed = l.onBaseDestroyed
	return l
}

// Context состояние матча
func (l *Loop) Context() *Context { return l.ctx }

// State текущее состояние
func (l *Loop) State() State { return l.state }

// Result итог, если матч завершён
func (l *Loop) Result() (Result, bool) {
	if l.result == nil {
		return Result{}, false
	}
	return *l.result, true
}

// Start переводит цикл в Running. Повторный вызов ничего не делает.
func (l *Loop) Start() {
	if l.state != StateIdle {
		return
	}
	l.state = StateRunning
	_, l.span = l.tracer.Start(context.Background(), "match",
		trace.WithAttributes(attribute.String("match.id", l.ctx.ID)))

	a := l.ctx.Arena
	l.events.Emit(eventbus.EventMatchStarted, eventbus.MatchStarted{
		Width:    a.Width,
		Height:   a.Height,
		BaseHP:   l.cfg.Arena.BaseHP,
		TickRate: l.cfg.Arena.TickRate,
	})
	l.logger.Info("Матч %s запущен", l.ctx.ID)
}

// Stop останавливает цикл без победителя
func (l *Loop) Stop() {
	if l.state == StateStopped {
		return
	}
	if l.state == StateIdle {
		l.state = StateStopped
		return
	}
	l.finish(Result{Winner: -1, Reason: ReasonStopped})
}

// Close останавливает цикл, разбирает матч и дожидается отправки событий
func (l *Loop) Close() {
	l.Stop()
	l.ctx.Teardown()
	l.events.Close()
}

// Attach подключает получателя; следующий снимок содержит всю геометрию
func (l *Loop) Attach(s Sink) {
	l.sinks = append(l.sinks, s)
	l.builder.Reset()
}

// Detach отключает получателя. Симуляция продолжается.
func (l *Loop) Detach(s Sink) {
	for i, other := range l.sinks {
		if other == s {
			l.sinks = append(l.sinks[:i], l.sinks[i+1:]...)
			return
		}
	}
}

// Spawn выпускает контрапцию в работающем матче
func (l *Loop) Spawn(ct *contraption.Contraption) error {
	if l.state != StateRunning {
		return ErrMatchStopped
	}
	_, span := l.tracer.Start(trace.ContextWithSpan(context.Background(), l.span), "match.spawn",
		trace.WithAttributes(
			attribute.String("contraption.id", ct.ID),
			attribute.Int("contraption.team", ct.Team),
			attribute.Int("contraption.blocks", len(ct.Blocks)),
		))
	defer span.End()

	spawned, err := l.ctx.Spawn(ct)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("physics.bodies", len(spawned.Bodies)))
	l.events.Emit(eventbus.EventContraptionSpawned, eventbus.ContraptionSpawned{
		ContraptionID: ct.ID,
		Name:          ct.Name,
		Team:          ct.Team,
		Blocks:        len(ct.Living()),
		Bot:           ct.Bot,
	})
	return nil
}

// Advance продвигает симуляцию на кадр длительностью frame. Делает не
// больше MaxSteps шагов; остаток сверх этого отбрасывается, чтобы цикл не
// отставал всё сильнее. Снимки отправляются между шагами со своей частотой.
func (l *Loop) Advance(frame time.Duration) int {
	if l.state != StateRunning || frame <= 0 {
		return 0
	}
	l.acc += frame
	steps := 0
	for l.acc >= l.step && steps < l.maxSteps && l.state == StateRunning {
		l.Tick()
		l.acc -= l.step
		steps++
	}
	if l.acc >= l.step {
		l.logger.Debug("Отброшено %v симуляции после %d шагов", l.acc-l.acc%l.step, steps)
		l.acc %= l.step
	}

	if l.syncEvery > 0 && len(l.sinks) > 0 {
		l.syncAcc += frame
		if l.syncAcc >= l.syncEvery {
			l.syncAcc -= l.syncEvery
			if l.syncAcc >= l.syncEvery {
				l.syncAcc = 0
			}
			l.broadcast()
		}
	}
	return steps
}

// Tick один шаг: силы → привод → физика → разрешение → уборка → победа
func (l *Loop) Tick() {
	if l.state != StateRunning {
		return
	}
	report := l.ctx.step(l.step)
	for _, c := range report.Lost {
		if c.Alive() {
			continue
		}
		if _, seen := l.announced[c.ID]; seen {
			continue
		}
		l.announced[c.ID] = struct{}{}
		l.events.Emit(eventbus.EventContraptionDestroyed, eventbus.ContraptionDestroyed{ContraptionID: c.ID, Team: c.Team})
	}
	l.checkWin()
}

// Snapshot собирает снимок текущего мира
func (l *Loop) Snapshot() *protocol.Snapshot {
	snap, stats := l.builder.Build(l.ctx.Now(), l.ctx.Frame(), l.ctx.DrainEffects())
	l.logger.Trace("Снимок %d: %d тел, геометрия %d (повторно %d)", snap.Seq, stats.Bodies, stats.Geometry, stats.Resent)
	return snap
}

func (l *Loop) broadcast() {
	snap := l.Snapshot()
	for _, s := range l.sinks {
		s.SendSnapshot(snap)
	}
}

func (l *Loop) control(msgType string, payload any) {
	for _, s := range l.sinks {
		s.SendControl(msgType, payload)
	}
}

func (l *Loop) onBaseHit(b *world.Base) {
	l.logger.Info("Ядро попало в базу команды %d, HP=%d", b.Team, b.HP)
	l.control(protocol.MsgBaseHP, protocol.BaseHP{Team: b.Team, HP: b.HP})
	l.events.Emit(eventbus.EventBaseDamaged, eventbus.BaseDamaged{Team: b.Team, HP: b.HP})
}

func (l *Loop) onBaseDestroyed(b *world.Base) {
	l.baseDown[b.Team] = true
}

// teamOut сторона выбыла: нет живых ядер и пусто в резерве
func (l *Loop) teamOut(team int) bool {
	if l.ctx.Reserve(team) > 0 {
		return false
	}
	for _, c := range l.ctx.Registry.Contraptions() {
		if c.Team == team && c.Alive() {
			return false
		}
	}
	return true
}

// checkWin разрушенная база завершает матч сразу, обе в одном шаге дают
// ничью. Выбывание ждёт TieWindow: если за это время выбыла и другая
// сторона, это ничья. Гибель ядер считается только для последних
// контрапций резерва: пока сторона может выпустить новую, она в игре,
// и одновременная гибель ядер при непустых резервах матч не завершает.
func (l *Loop) checkWin() {
	now := l.ctx.Now()
	switch {
	case l.baseDown[0] && l.baseDown[1]:
		l.finish(Result{Winner: -1, Tie: true, Reason: ReasonBase})
		return
	case l.baseDown[0]:
		l.finish(Result{Winner: 1, Reason: ReasonBase})
		return
	case l.baseDown[1]:
		l.finish(Result{Winner: 0, Reason: ReasonBase})
		return
	}

	for team := 0; team < 2; team++ {
		if !l.out[team] && l.teamOut(team) {
			l.out[team] = true
			l.eliminated[team] = now
			l.logger.Info("Команда %d выбыла", team)
		}
	}
	switch {
	case l.out[0] && l.out[1]:
		gap := l.eliminated[0] - l.eliminated[1]
		if gap < 0 {
			gap = -gap
		}
		if gap <= l.cfg.Arena.TieWindow {
			l.finish(Result{Winner: -1, Tie: true, Reason: ReasonElimination})
			return
		}
		first := 0
		if l.eliminated[1] < l.eliminated[0] {
			first = 1
		}
		l.finish(Result{Winner: 1 - first, Reason: ReasonElimination})
	case l.out[0] && now-l.eliminated[0] > l.cfg.Arena.TieWindow:
		l.finish(Result{Winner: 1, Reason: ReasonElimination})
	case l.out[1] && now-l.eliminated[1] > l.cfg.Arena.TieWindow:
		l.finish(Result{Winner: 0, Reason: ReasonElimination})
	}
}

func (l *Loop) finish(r Result) {
	if l.state == StateStopped {
		return
	}
	r.Tick = l.ctx.Tick()
	l.state = StateStopped
	l.result = &r

	if len(l.sinks) > 0 {
		l.broadcast()
	}
	l.control(protocol.MsgMatchEnd, protocol.MatchEnd{Winner: r.Winner, Tie: r.Tie, Reason: r.Reason})
	l.events.Emit(eventbus.EventMatchEnded, eventbus.MatchEnded{Winner: r.Winner, Tie: r.Tie, Reason: r.Reason, Ticks: r.Tick})

	if l.span != nil {
		l.span.SetAttributes(
			attribute.Int("match.winner", r.Winner),
			attribute.Bool("match.tie", r.Tie),
			attribute.String("match.reason", r.Reason),
			attribute.Int64("match.ticks", int64(r.Tick)),
		)
		l.span.End()
	}
	l.logger.Info("Матч %s завершён на шаге %d: winner=%d tie=%v (%s)", l.ctx.ID, r.Tick, r.Winner, r.Tie, r.Reason)
	if l.OnEnd != nil {
		l.OnEnd(r)
	}
}
