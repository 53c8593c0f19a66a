package eventbus

import (
	"context"

	"github.com/annel0/contraption-arena/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus, logger *logging.Logger) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("[EventBus] %s %s match=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.MatchID, ev.Priority, len(ev.Payload))
		switch ev.EventType {
		case EventBaseDamaged:
			if p, err := Decode[BaseDamaged](ev); err == nil {
				logger.Info("База команды %d: HP=%d", p.Team, p.HP)
			}
		case EventMatchEnded:
			if p, err := Decode[MatchEnded](ev); err == nil {
				logger.Info("Матч %s завершён: winner=%d tie=%v (%s)", ev.MatchID, p.Winner, p.Tie, p.Reason)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	logger.Info("LoggingListener: подписка на все события активирована")
	return sub, nil
}
