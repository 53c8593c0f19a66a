package match

import (
	"context"
	"time"

	"github.com/annel0/contraption-arena/internal/contraption"
)

// SpawnCmd выпустить контрапцию. Ответы во всех командах отправляются без
// блокировки, каналы Reply должны быть буферизованы.
type SpawnCmd struct {
	Contraption *contraption.Contraption
	Reply       chan<- error
}

// InputCmd ввод привода стороны
type InputCmd struct {
	Team  int
	Drive float64
}

// AttachCmd подключить получателя снимков
type AttachCmd struct {
	Sink Sink
}

// DetachCmd отключить получателя
type DetachCmd struct {
	Sink Sink
}

// StatusCmd запрос состояния для REST
type StatusCmd struct {
	Reply chan<- Status
}

// ContraptionStatus краткое состояние контрапции
type ContraptionStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Team   int    `json:"team"`
	Bot    bool   `json:"bot"`
	Alive  bool   `json:"alive"`
	Living int    `json:"living"`
	Total  int    `json:"total"`
}

// Status состояние матча
type Status struct {
	MatchID      string              `json:"matchId"`
	State        string              `json:"state"`
	Tick         uint64              `json:"tick"`
	Elapsed      time.Duration       `json:"elapsed"`
	BaseHP       [2]int              `json:"baseHp"`
	Reserve      [2]int              `json:"reserve"`
	Inputs       [2]float64          `json:"inputs"`
	Bodies       int                 `json:"bodies"`
	Peers        int                 `json:"peers"`
	Contraptions []ContraptionStatus `json:"contraptions"`
	Result       *Result             `json:"result,omitempty"`
}

// Status собирает состояние матча
func (l *Loop) Status() Status {
	mc := l.ctx
	st := Status{
		MatchID: mc.ID,
		State:   l.state.String(),
		Tick:    mc.Tick(),
		Elapsed: mc.Now(),
		Bodies:  len(mc.Registry.BoundBodies()),
		Peers:   len(l.sinks),
	}
	if l.result != nil {
		r := *l.result
		st.Result = &r
	}
	for team := 0; team < 2; team++ {
		st.BaseHP[team] = mc.Arena.Bases[team].HP
		st.Reserve[team] = mc.Reserve(team)
		st.Inputs[team] = mc.Input(team)
	}
	for _, c := range mc.Registry.Contraptions() {
		st.Contraptions = append(st.Contraptions, ContraptionStatus{
			ID:     c.ID,
			Name:   c.Name,
			Team:   c.Team,
			Bot:    c.Bot,
			Alive:  c.Alive(),
			Living: len(c.Living()),
			Total:  len(c.Blocks),
		})
	}
	return st
}

// handle выполняет команду из Inbox
func (l *Loop) handle(cmd any) {
	switch c := cmd.(type) {
	case SpawnCmd:
		err := l.Spawn(c.Contraption)
		if err != nil {
			l.logger.Warn("Выпуск %s отклонён: %v", c.Contraption.Name, err)
		}
		if c.Reply != nil {
			select {
			case c.Reply <- err:
			default:
			}
		}
	case InputCmd:
		if err := l.ctx.SetInput(c.Team, c.Drive); err != nil {
			l.logger.Warn("Ввод отклонён: %v", err)
		}
	case AttachCmd:
		l.Attach(c.Sink)
	case DetachCmd:
		l.Detach(c.Sink)
	case StatusCmd:
		select {
		case c.Reply <- l.Status():
		default:
		}
	default:
		l.logger.Warn("Неизвестная команда %T", cmd)
	}
}

// Run крутит матч: кадры по таймеру с частотой FrameRate и команды из
// Inbox в одной горутине. Возвращается по отмене ctx; матч после этого
// остановлен, но не разобран.
func (l *Loop) Run(ctx context.Context) error {
	rate := l.cfg.Arena.FrameRate
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	l.Start()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case cmd := <-l.Inbox:
			l.handle(cmd)
		case now := <-ticker.C:
			l.Advance(now.Sub(last))
			last = now
		}
	}
}

// Submit кладёт команду в Inbox, не дольше timeout
func (l *Loop) Submit(cmd any, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case l.Inbox <- cmd:
		return true
	case <-t.C:
		return false
	}
}

// Query запрашивает состояние у работающего Run
func (l *Loop) Query(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case l.Inbox <- StatusCmd{Reply: reply}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}
