// Package api REST API хоста: состояние матча, чертежи и колоды, история
// событий, служебные метрики.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/contraption-arena/internal/api/replay"
	"github.com/annel0/contraption-arena/internal/contraption"
	"github.com/annel0/contraption-arena/internal/logging"
	"github.com/annel0/contraption-arena/internal/match"
	"github.com/annel0/contraption-arena/internal/middleware"
	"github.com/annel0/contraption-arena/internal/storage"
)

const (
	serverName    = "Contraption Arena Host"
	serverVersion = "v0.3.0"
	queryTimeout  = 2 * time.Second
	maxBodyBytes  = 1 << 20
)

// MatchQuerier отдаёт состояние работающего матча
type MatchQuerier interface {
	Query(ctx context.Context) (match.Status, error)
}

// RestServer представляет REST API сервер
type RestServer struct {
	router  *gin.Engine
	http    *http.Server
	match   MatchQuerier
	repo    storage.BlueprintRepo
	replay  *replay.ReplayService
	metrics *ServerMetrics
	logger  *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr       string                // адрес для запуска сервера
	Match      MatchQuerier          // nil: /api/match отвечает 503
	Repo       storage.BlueprintRepo // хранилище чертежей
	Events     replay.EventStore     // nil: /api/events отвечает 503
	WriteRate  int                   // запросов на изменение в секунду
	Registry   *prometheus.Registry  // nil: регистр по умолчанию
	WSHandler  http.Handler          // если задан, монтируется на /ws
	ServiceTag string                // имя сервиса для трассировки
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ServiceTag == "" {
		cfg.ServiceTag = "rest_api"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // без стандартного logger/recovery
	router.Use(middleware.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware(cfg.ServiceTag))
	router.Use(middleware.NewRequestLogger().Handler())

	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if cfg.Registry != nil {
		reg, gatherer = cfg.Registry, cfg.Registry
	}
	promMw := middleware.NewPrometheusMiddleware("arena", reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	rs := &RestServer{
		router:  router,
		match:   cfg.Match,
		repo:    cfg.Repo,
		metrics: NewServerMetrics(),
		logger:  logging.GetAPILogger(),
	}
	if cfg.Events != nil {
		rs.replay = replay.NewReplayService(cfg.Events)
	}
	rs.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	rs.setupRoutes(cfg)
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes(cfg Config) {
	rs.router.Use(corsMiddleware())
	rs.router.GET("/health", rs.handleHealth)
	if cfg.WSHandler != nil {
		rs.router.GET("/ws", gin.WrapH(cfg.WSHandler))
	}

	api := rs.router.Group("/api")
	api.Use(bodyLimitMiddleware(maxBodyBytes))
	{
		api.GET("/server", rs.handleServerInfo)
		api.GET("/match", rs.handleMatch)

		api.GET("/events", rs.handleEvents)
		api.GET("/events/stats", rs.handleEventStats)
		api.GET("/events/types", rs.handleEventTypes)

		api.GET("/blueprints", rs.handleListBlueprints)
		api.GET("/blueprints/:id", rs.handleGetBlueprint)
		api.GET("/decks/:slot", rs.handleGetDeck)
	}

	write := api.Group("/")
	write.Use(rateLimitMiddleware(cfg.WriteRate))
	{
		write.POST("/blueprints", rs.handleCreateBlueprint)
		write.PUT("/blueprints/:id", rs.handlePutBlueprint)
		write.DELETE("/blueprints/:id", rs.handleDeleteBlueprint)
		write.PUT("/decks/:slot", rs.handlePutDeck)
	}
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// DeckRequest тело PUT /api/decks/:slot
type DeckRequest struct {
	Blueprints []string `json:"blueprints"`
}

// Handler HTTP-обработчик, например для httptest
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает REST сервер; возвращает nil после Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("REST API слушает %s", rs.http.Addr)
	if err := rs.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает сервер, дожидаясь текущих запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.http.Shutdown(ctx)
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

// storageStatus переводит ошибку хранилища в HTTP-статус
func (rs *RestServer) storageStatus(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrNoID), errors.Is(err, storage.ErrInvalid), errors.Is(err, storage.ErrDeckTooLarge):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fail(c, http.StatusServiceUnavailable, "Хранилище не ответило")
	default:
		rs.logger.Error("Ошибка хранилища: %v", err)
		c.Error(err)
		fail(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
	}
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleServerInfo возвращает информацию о процессе хоста
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	ok(c, http.StatusOK, "Информация о сервере", rs.metrics.Info(serverName, serverVersion))
}

// handleMatch возвращает состояние матча
func (rs *RestServer) handleMatch(c *gin.Context) {
	if rs.match == nil {
		fail(c, http.StatusServiceUnavailable, "Матч не запущен")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	st, err := rs.match.Query(ctx)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "Цикл матча не ответил")
		return
	}
	ok(c, http.StatusOK, "Состояние матча", st)
}

func (rs *RestServer) handleListBlueprints(c *gin.Context) {
	list, err := rs.repo.ListBlueprints(c.Request.Context())
	if err != nil {
		rs.storageStatus(c, err)
		return
	}
	if list == nil {
		list = []contraption.Blueprint{}
	}
	ok(c, http.StatusOK, "Чертежи", list)
}

func (rs *RestServer) handleGetBlueprint(c *gin.Context) {
	bp, err := rs.repo.LoadBlueprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.storageStatus(c, err)
		return
	}
	ok(c, http.StatusOK, "Чертёж", bp)
}

// handleCreateBlueprint сохраняет новый чертёж; существующий ID даёт 409
func (rs *RestServer) handleCreateBlueprint(c *gin.Context) {
	var bp contraption.Blueprint
	if err := c.ShouldBindJSON(&bp); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	ctx := c.Request.Context()
	if bp.ID != "" {
		if _, err := rs.repo.LoadBlueprint(ctx, bp.ID); err == nil {
			fail(c, http.StatusConflict, "Чертёж с таким ID уже существует")
			return
		}
	}
	rs.saveBlueprint(c, bp, http.StatusCreated)
}

// handlePutBlueprint создаёт или заменяет чертёж с ID из пути
func (rs *RestServer) handlePutBlueprint(c *gin.Context) {
	var bp contraption.Blueprint
	if err := c.ShouldBindJSON(&bp); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	id := c.Param("id")
	if bp.ID != "" && bp.ID != id {
		fail(c, http.StatusBadRequest, "ID в теле не совпадает с путём")
		return
	}
	bp.ID = id
	rs.saveBlueprint(c, bp, http.StatusOK)
}

func (rs *RestServer) saveBlueprint(c *gin.Context, bp contraption.Blueprint, status int) {
	if bp.Version == 0 {
		bp.Version = contraption.BlueprintVersion
	}
	if err := rs.repo.SaveBlueprint(c.Request.Context(), bp); err != nil {
		rs.storageStatus(c, err)
		return
	}
	rs.logger.Info("Чертёж %s сохранён (%d блоков)", bp.ID, len(bp.Blocks))
	ok(c, status, "Чертёж сохранён", bp)
}

func (rs *RestServer) handleDeleteBlueprint(c *gin.Context) {
	if err := rs.repo.DeleteBlueprint(c.Request.Context(), c.Param("id")); err != nil {
		rs.storageStatus(c, err)
		return
	}
	ok(c, http.StatusOK, "Чертёж удалён", nil)
}

func (rs *RestServer) handleGetDeck(c *gin.Context) {
	ids, err := rs.repo.LoadDeck(c.Request.Context(), c.Param("slot"))
	if err != nil {
		rs.storageStatus(c, err)
		return
	}
	ok(c, http.StatusOK, "Колода", DeckRequest{Blueprints: ids})
}

func (rs *RestServer) handlePutDeck(c *gin.Context) {
	var req DeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}
	err := rs.repo.SaveDeck(c.Request.Context(), c.Param("slot"), req.Blueprints)
	if errors.Is(err, storage.ErrNotFound) {
		// в колоде чертёж, которого нет
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		rs.storageStatus(c, err)
		return
	}
	ok(c, http.StatusOK, "Колода сохранена", req)
}

// eventQuery разбирает параметры ?type=a,b&match=&since=&until=&limit=
func eventQuery(c *gin.Context) (replay.EventQuery, error) {
	q := replay.EventQuery{MatchID: c.Query("match")}
	if types := c.Query("type"); types != "" {
		q.EventTypes = strings.Split(types, ",")
	}
	for key, dst := range map[string]**time.Time{"since": &q.StartTime, "until": &q.EndTime} {
		if raw := c.Query(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return q, err
			}
			*dst = &t
		}
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("bad limit")
		}
		q.Limit = n
	}
	return q, nil
}

func (rs *RestServer) handleEvents(c *gin.Context) {
	if rs.replay == nil {
		fail(c, http.StatusServiceUnavailable, "История событий не ведётся")
		return
	}
	q, err := eventQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "Неверные параметры запроса")
		return
	}
	evs, err := rs.replay.StreamEvents(c.Request.Context(), q)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, "События", evs)
}

func (rs *RestServer) handleEventStats(c *gin.Context) {
	if rs.replay == nil {
		fail(c, http.StatusServiceUnavailable, "История событий не ведётся")
		return
	}
	q, err := eventQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, "Неверные параметры запроса")
		return
	}
	stats, err := rs.replay.GetEventStats(c.Request.Context(), q)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, "Статистика событий", stats)
}

func (rs *RestServer) handleEventTypes(c *gin.Context) {
	if rs.replay == nil {
		fail(c, http.StatusServiceUnavailable, "История событий не ведётся")
		return
	}
	types, err := rs.replay.GetEventTypes(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, "Типы событий", types)
}
