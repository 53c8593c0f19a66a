package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации арены.
// Незаданные в YAML поля берутся из Default().
type Config struct {
	Arena     ArenaConfig     `yaml:"arena"`
	Combat    CombatConfig    `yaml:"combat"`
	Sync      SyncConfig      `yaml:"sync"`
	Interp    InterpConfig    `yaml:"interp"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
	LogFiles  bool            `yaml:"log_files"` // файл logs/<component>_<ts>.log на каждый компонент
}

// ArenaConfig геометрия арены и шаг симуляции
type ArenaConfig struct {
	Width       float64       `yaml:"width"`
	Height      float64       `yaml:"height"`
	GridSize    float64       `yaml:"grid_size"`
	Gravity     float64       `yaml:"gravity"`
	TickRate    int           `yaml:"tick_rate"`  // шагов физики в секунду
	FrameRate   int           `yaml:"frame_rate"` // кадров цикла событий в секунду
	MaxSteps    int           `yaml:"max_steps_per_frame"`
	BaseHP      int           `yaml:"base_hp"`
	BaseWidth   float64       `yaml:"base_width"`
	TieWindow   time.Duration `yaml:"tie_window"`
	TerrainSeed int64         `yaml:"terrain_seed"`
	Amplitude   float64       `yaml:"terrain_amplitude"`
	Segments    int           `yaml:"terrain_segments"`
	Reserve     int           `yaml:"reserve"` // сколько контрапций может выпустить сторона
}

// CombatConfig эмпирические константы боя
type CombatConfig struct {
	ContactRetrigger time.Duration `yaml:"contact_retrigger"`
	SpeedScale       float64       `yaml:"speed_scale"`
	FragileFactor    float64       `yaml:"fragile_factor"`
	TerrainBonus     float64       `yaml:"terrain_bonus"` // доля надбавки к урону ядра о рельеф
	KnockbackScale   float64       `yaml:"knockback_scale"`
	BlastRadiusCells float64       `yaml:"blast_radius_cells"`
	BlastInner       float64       `yaml:"blast_inner_damage"`
	BlastOuter       float64       `yaml:"blast_outer_damage"`
	BlastKnockInner  float64       `yaml:"blast_knockback_inner"`
	BlastKnockOuter  float64       `yaml:"blast_knockback_outer"`
}

// SyncConfig параметры отправки снимков
type SyncConfig struct {
	SendRate       int           `yaml:"send_rate"`
	ResendInterval time.Duration `yaml:"resend_interval"`
	MaxResends     int           `yaml:"max_resends"`
	Compress       bool          `yaml:"compress"`
}

// InterpConfig параметры клиентской интерполяции
type InterpConfig struct {
	MinDelay         time.Duration `yaml:"min_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	LossDelayCap     time.Duration `yaml:"loss_delay_cap"`
	JitterMul        float64       `yaml:"jitter_mul"`
	Smoothing        float64       `yaml:"smoothing"`
	LossRateFraction float64       `yaml:"loss_rate_fraction"`
	MaxBuffered      int           `yaml:"max_buffered"`
	MaxExtrapolation time.Duration `yaml:"max_extrapolation"`
	Extrapolate      bool          `yaml:"extrapolate"`
}

// ServerConfig порты транспорта и служебных HTTP
type ServerConfig struct {
	Host        string `yaml:"host"`
	KCPPort     int    `yaml:"kcp_port"`
	UDPPort     int    `yaml:"udp_port"`
	WSPort      int    `yaml:"ws_port"`
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	CommandRate int    `yaml:"command_rate"` // команд в секунду от пира
}

// EventBusConfig шина событий матча. Пустой URL означает in-memory шину.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// StorageConfig хранилище чертежей: memory | badger | redis
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	BadgerPath  string `yaml:"badger_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// TelemetryConfig трассировка OTLP
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Service  string `yaml:"service"`
	Endpoint string `yaml:"endpoint"`
}

// Default возвращает настроенные значения по умолчанию
func Default() *Config {
	return &Config{
		Arena: ArenaConfig{
			Width:       4000,
			Height:      1200,
			GridSize:    40,
			Gravity:     900,
			TickRate:    60,
			FrameRate:   60,
			MaxSteps:    5,
			BaseHP:      3,
			BaseWidth:   160,
			TieWindow:   500 * time.Millisecond,
			TerrainSeed: 42,
			Amplitude:   60,
			Segments:    40,
			Reserve:     6,
		},
		Combat: CombatConfig{
			ContactRetrigger: 250 * time.Millisecond,
			SpeedScale:       1.0 / 60,
			FragileFactor:    0.02,
			TerrainBonus:     0.25,
			KnockbackScale:   40,
			BlastRadiusCells: 3,
			BlastInner:       80,
			BlastOuter:       30,
			BlastKnockInner:  600,
			BlastKnockOuter:  250,
		},
		Sync: SyncConfig{
			SendRate:       20,
			ResendInterval: 2 * time.Second,
			MaxResends:     4,
			Compress:       true,
		},
		Interp: InterpConfig{
			MinDelay:         50 * time.Millisecond,
			MaxDelay:         300 * time.Millisecond,
			LossDelayCap:     150 * time.Millisecond,
			JitterMul:        2,
			Smoothing:        0.1,
			LossRateFraction: 0.5,
			MaxBuffered:      120,
			MaxExtrapolation: 100 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			CommandRate: 30,
		},
		EventBus: EventBusConfig{
			Stream:    "ARENA_EVENTS",
			Retention: 24,
		},
		Storage: StorageConfig{
			Backend:     "memory",
			BadgerPath:  "data/blueprints",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "arena:",
		},
		Telemetry: TelemetryConfig{
			Service:  "contraption-arena",
			Endpoint: "localhost:4318",
		},
		LogLevel: "info",
	}
}

// TickDuration длительность одного шага физики
func (a ArenaConfig) TickDuration() time.Duration {
	if a.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(a.TickRate)
}

// BlastRadius радиус взрыва в мировых единицах
func (c *Config) BlastRadius() float64 {
	return c.Combat.BlastRadiusCells * c.Arena.GridSize
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "ARENA_KCP_PORT", 7777)
}

// GetUDPPort возвращает UDP порт снимков
func (s *ServerConfig) GetUDPPort() int {
	return getPortWithEnvFallback(s.UDPPort, "ARENA_UDP_PORT", 7778)
}

// GetWSPort возвращает порт WebSocket
func (s *ServerConfig) GetWSPort() int {
	return getPortWithEnvFallback(s.WSPort, "ARENA_WS_PORT", 7779)
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "ARENA_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "ARENA_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берётся ENV ARENA_CONFIG; если и он пуст, возвращается Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("ARENA_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	return cfg, nil
}
