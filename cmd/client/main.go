// Безголовый клиент арены: подключается к хосту, выпускает контрапции из
// колоды и пишет в лог состояние интерполятора. Используется для нагрузочных
// прогонов и отладки синхронизации.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/network"
	"github.com/annel0/contraption-arena/internal/protocol"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config (default: $ARENA_CONFIG or built-in defaults)")
		kcpAddr    = flag.String("kcp", "127.0.0.1:7777", "KCP address of the host")
		wsURL      = flag.String("ws", "", "WebSocket URL; overrides -kcp")
		udpAddr    = flag.String("udp", "", "UDP address for snapshots; empty keeps them on the control channel")
		name       = flag.String("name", "bot", "Player name")
		deck       = flag.String("deck", "", "Deck slot on the host")
		drive      = flag.Float64("drive", 1, "Team drive input in [-1, 1]")
		slots      = flag.Int("slots", 1, "Deck slots to cycle through")
		every      = flag.Duration("spawn-every", 3*time.Second, "Spawn interval; 0 disables spawning")
		duration   = flag.Duration("for", 0, "Exit after this long; 0 runs until the match ends")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := logging.InitDefaultLogger("client"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	logging.GetLoggerManager().EnableFileSink(cfg.LogFiles)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *duration)
		defer stop()
	}

	comp, err := protocol.NewCompressor(cfg.Sync.Compress)
	if err != nil {
		log.Fatalf("❌ Компрессор: %v", err)
	}
	defer comp.Close()

	peer, err := dial(ctx, *kcpAddr, *wsURL)
	if err != nil {
		logging.Error("❌ Не удалось подключиться: %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}

	client := network.NewClientSession(peer, cfg, comp, nil)
	defer client.Close()

	started := make(chan protocol.MatchStart, 1)
	client.OnMatchStart(func(ms protocol.MatchStart) {
		logging.Info("🎮 Матч %s, команда %d", ms.MatchID, ms.Team)
		if *udpAddr != "" {
			dg, err := network.DialUDP(*udpAddr)
			if err != nil {
				logging.Warn("UDP недоступен, снимки идут по управляющему каналу: %v", err)
			} else if err := client.BindUDP(dg, ms.Token); err != nil {
				logging.Warn("Привязка UDP: %v", err)
			}
		}
		select {
		case started <- ms:
		default:
		}
	})
	if err := client.Start(protocol.Hello{Name: *name, Deck: *deck}); err != nil {
		logging.Error("❌ Hello: %v", err)
		return
	}

	select {
	case <-started:
	case <-ctx.Done():
		return
	}
	if err := client.SendInput(*drive); err != nil {
		logging.Warn("Ввод не отправлен: %v", err)
	}

	play(ctx, client, *slots, *every)
}

func dial(ctx context.Context, kcpAddr, wsURL string) (*network.Peer, error) {
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if wsURL != "" {
		logging.Info("Подключение к %s", wsURL)
		return network.DialWS(dctx, wsURL)
	}
	logging.Info("Подключение к KCP %s", kcpAddr)
	return network.DialKCP(dctx, kcpAddr)
}

// play крутит кадры с частотой 60 Гц, пока матч не закончится
func play(ctx context.Context, client *network.ClientSession, slots int, every time.Duration) {
	frames := time.NewTicker(time.Second / 60)
	defer frames.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	var spawnC <-chan time.Time
	if every > 0 {
		spawner := time.NewTicker(every)
		defer spawner.Stop()
		spawnC = spawner.C
	}

	slot := 0
	bodies := 0
	for {
		select {
		case <-ctx.Done():
			logging.Info("Остановка клиента")
			return
		case <-frames.C:
			bodies = len(client.Frame(client.Now()))
			if res, ok := client.Result(); ok {
				logging.Info("🏁 Матч окончен: победитель %d, ничья %v (%s)", res.Winner, res.Tie, res.Reason)
				return
			}
		case <-spawnC:
			if err := client.Spawn(slot); err != nil {
				logging.Warn("Спавн слота %d: %v", slot, err)
			}
			slot = (slot + 1) % max(slots, 1)
		case ack := <-client.SpawnAcks():
			if ack.Error != "" {
				logging.Warn("Слот %d отклонён: %s", ack.Slot, ack.Error)
			} else {
				logging.Debug("Слот %d: %s", ack.Slot, ack.ContraptionID)
			}
		case <-report.C:
			hp := client.BaseHP()
			logging.Info("📊 режим %v, тел %d, задержка %v, базы %d/%d, RTT %v",
				client.Mode(), bodies, client.Delay(), hp[0], hp[1], client.RTT())
			if err := client.Ping(); err != nil {
				logging.Warn("Ping: %v", err)
			}
		}
	}
}
