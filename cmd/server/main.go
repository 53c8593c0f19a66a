package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/contraption-arena/internal/api"
	"github.com/annel0/contraption-arena/internal/api/replay"
	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/eventbus"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/match"
	"github.com/annel0/contraption-arena/internal/network"
	"github.com/annel0/contraption-arena/internal/observability"
	"github.com/annel0/contraption-arena/internal/physics/cpworld"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/storage"
	"github.com/annel0/contraption-arena/internal/vec"
)

// starterBlueprints кладутся в пустое хранилище, чтобы колода по умолчанию
// была непустой
var starterBlueprints = []contraption.Blueprint{
	{
		Version: contraption.BlueprintVersion,
		ID:      "brick",
		Name:    "Brick",
		Facing:  1,
		Blocks:  []contraption.BlueprintBlock{{Type: "core"}},
	},
	{
		Version: contraption.BlueprintVersion,
		ID:      "roller",
		Name:    "Roller",
		Facing:  1,
		Blocks:  []contraption.BlueprintBlock{{Type: "core"}, {Type: "wheel", Y: 1}},
	},
}

func main() {
	configPath := flag.String("config", "", "YAML config (default: $ARENA_CONFIG or built-in defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	logging.GetLoggerManager().EnableFileSink(cfg.LogFiles)

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info("🎮 Запуск хоста Contraption Arena...")

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("телеметрия: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	// === МЕТРИКИ ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus, logging.GetMatchLogger()); err != nil {
		return fmt.Errorf("логирование событий: %w", err)
	}
	exporter := eventbus.NewMetricsExporter(bus, reg)
	exporter.Start()
	defer exporter.Stop()

	history := replay.NewRingStore(4096)
	if _, err := history.Attach(ctx, bus); err != nil {
		return fmt.Errorf("история событий: %w", err)
	}

	// === ХРАНИЛИЩЕ ЧЕРТЕЖЕЙ ===
	repo, err := storage.NewRepo(cfg.Storage)
	if err != nil {
		return fmt.Errorf("хранилище %s: %w", cfg.Storage.Backend, err)
	}
	defer repo.Close()
	seedStarterDeck(ctx, repo)

	// === МАТЧ ===
	opts := cpworld.DefaultOptions()
	opts.Gravity = vec.Vec2Float{X: 0, Y: cfg.Arena.Gravity}
	mc := match.NewContext(cfg, cpworld.New(opts))
	loop := match.NewLoop(cfg, mc, bus)
	loop.OnEnd = func(r match.Result) {
		logging.Info("🏁 Матч %s завершён: %+v", mc.ID, r)
	}

	comp, err := protocol.NewCompressor(cfg.Sync.Compress)
	if err != nil {
		return fmt.Errorf("компрессор: %w", err)
	}
	defer comp.Close()

	hub := network.NewServer(loop, repo, network.ServerOptions{
		CommandRate: cfg.Server.CommandRate,
		Compressor:  comp,
		Metrics:     network.NewMetrics(reg),
	})

	// === ТРАНСПОРТ ===
	kcpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetKCPPort())
	kcpL, err := network.ListenKCP(kcpAddr)
	if err != nil {
		return err
	}
	udpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetUDPPort())
	udpL, err := network.ListenUDP(udpAddr)
	if err != nil {
		kcpL.Close()
		return err
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", hub.WSHandler())
	wsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetWSPort()),
		Handler:           wsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetMetricsPort()),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rest := api.NewRestServer(api.Config{
		Addr:      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetRESTPort()),
		Match:     loop,
		Repo:      repo,
		Events:    history,
		WriteRate: 20,
		Registry:  reg,
	})

	errCh := make(chan error, 8)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("цикл матча: %w", err)
		}
	}()
	go func() { errCh <- hub.ServeKCP(ctx, kcpL) }()
	go func() { errCh <- hub.ServeUDP(ctx, udpL) }()
	go serveHTTP(wsServer, "WebSocket", errCh)
	go serveHTTP(metricsServer, "Prometheus", errCh)
	go func() {
		if err := rest.Start(); err != nil {
			errCh <- fmt.Errorf("REST API: %w", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 KCP %s, UDP %s, WebSocket ws://%s/ws", kcpAddr, udpAddr, wsServer.Addr)
	logging.Info("   🌐 REST API: http://%s", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GetRESTPort()))
	logging.Info("   📈 Метрики: http://%s/metrics", metricsServer.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case runErr = <-errCh:
		if runErr != nil {
			logging.Error("Сервис остановился: %v", runErr)
		}
		cancel()
	}

	// === GRACEFUL SHUTDOWN ===
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	hub.Close()
	if err := rest.Stop(stopCtx); err != nil {
		logging.Warn("Остановка REST API: %v", err)
	}
	wsServer.Shutdown(stopCtx)
	metricsServer.Shutdown(stopCtx)
	<-loopDone
	loop.Close()
	return runErr
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("Шина событий: in-memory")
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JetStream %s: %w", cfg.URL, err)
	}
	logging.Info("Шина событий: JetStream %s (stream %s)", cfg.URL, cfg.Stream)
	return bus, nil
}

// seedStarterDeck заполняет колоду по умолчанию, если её ещё нет
func seedStarterDeck(ctx context.Context, repo storage.BlueprintRepo) {
	if _, err := repo.LoadDeck(ctx, "default"); err == nil {
		return
	}
	var ids []string
	for _, bp := range starterBlueprints {
		if err := repo.SaveBlueprint(ctx, bp); err != nil {
			logging.Warn("Стартовый чертёж %s не сохранён: %v", bp.ID, err)
			continue
		}
		ids = append(ids, bp.ID)
	}
	if err := repo.SaveDeck(ctx, "default", ids); err != nil {
		logging.Warn("Колода по умолчанию не сохранена: %v", err)
		return
	}
	logging.Info("Колода по умолчанию: %v", ids)
}

func serveHTTP(srv *http.Server, name string, errCh chan<- error) {
	logging.Info("%s слушает %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s: %w", name, err)
	}
}
