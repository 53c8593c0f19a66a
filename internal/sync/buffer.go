package sync

import (
	"math"
	"sync"
	"time"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/protocol"
	"github.com/annel0/contraption-arena/internal/vec"
)

// gapWindow сколько последних интервалов приёма учитывает задержка
const gapWindow = 20

// rateWindow окно оценки частоты входящих снимков
const rateWindow = time.Second

// geometry кэш формы тела в локальных координатах
type geometry struct {
	local  []vec.Vec2Float
	radius float64
	color  string
}

// bufferedBody поза тела в одном снимке
type bufferedBody struct {
	body  RenderBody
	local []vec.Vec2Float
}

// entry снимок с локальным временем приёма; после Push не меняется
type entry struct {
	recv   time.Duration
	bodies map[uint64]bufferedBody
	order  []uint64
}

// SnapshotBuffer клиентский буфер снимков. Порядок и задержка строятся по
// локальному времени приёма, часы хоста не используются.
type SnapshotBuffer struct {
	mu sync.Mutex

	cfg      config.InterpConfig
	sendRate int

	entries []*entry
	cache   map[uint64]geometry
	newest  uint32

	// arrivals времена приёма для задержки и оценки частоты; Trim их не трогает
	arrivals []time.Duration

	delay    time.Duration
	hasDelay bool

	stale   uint64
	dropped uint64
}

// NewSnapshotBuffer создаёт буфер. sendRate номинальная частота снимков хоста.
func NewSnapshotBuffer(cfg config.InterpConfig, sendRate int) *SnapshotBuffer {
	return &SnapshotBuffer{
		cfg:      cfg,
		sendRate: sendRate,
		cache:    make(map[uint64]geometry),
		delay:    cfg.MinDelay,
	}
}

// Push добавляет снимок, принятый в recv по локальным часам. Снимок с
// номером не новее последнего принятого в буфер не попадает, но его
// геометрия для ещё не известных тел сохраняется в кэш.
func (b *SnapshotBuffer) Push(s *protocol.Snapshot, recv time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) > 0 && s.Seq <= b.newest {
		for _, body := range s.Bodies {
			if _, known := b.cache[body.ID]; !known && body.HasGeometry {
				b.remember(body)
			}
		}
		b.stale++
		return false
	}
	if n := len(b.entries); n > 0 && recv < b.entries[n-1].recv {
		recv = b.entries[n-1].recv
	}

	e := &entry{
		recv:   recv,
		bodies: make(map[uint64]bufferedBody, len(s.Bodies)),
		order:  make([]uint64, 0, len(s.Bodies)),
	}
	for _, body := range s.Bodies {
		if body.HasGeometry {
			b.remember(body)
		}
		geo := b.cache[body.ID]
		pos := body.Position()
		e.bodies[body.ID] = bufferedBody{
			body: RenderBody{
				ID:            body.ID,
				Position:      pos,
				Angle:         body.Angle,
				Vertices:      project(geo.local, pos, body.Angle),
				CircleRadius:  geo.radius,
				Color:         geo.color,
				Static:        body.Static,
				HasHealth:     body.HasHealth,
				HealthPercent: body.HealthPercent,
			},
			local: geo.local,
		}
		e.order = append(e.order, body.ID)
	}

	b.entries = append(b.entries, e)
	b.newest = s.Seq
	b.arrive(recv)
	b.forget(e)
	return true
}

// arrive записывает время приёма. Хранится не меньше gapWindow+1 отметок
// и все отметки за последний rateWindow.
func (b *SnapshotBuffer) arrive(recv time.Duration) {
	b.arrivals = append(b.arrivals, recv)
	drop := 0
	for len(b.arrivals)-drop > gapWindow+1 && recv-b.arrivals[drop] > rateWindow {
		drop++
	}
	if drop > 0 {
		b.arrivals = append(b.arrivals[:0:0], b.arrivals[drop:]...)
	}
}

// remember переводит мировые вершины в локальные и кэширует их
func (b *SnapshotBuffer) remember(body protocol.Body) {
	pos := body.Position()
	local := make([]vec.Vec2Float, len(body.Vertices))
	for i, v := range body.Vertices {
		local[i] = vec.ToLocal(v, pos, body.Angle)
	}
	b.cache[body.ID] = geometry{local: local, radius: body.CircleRadius, color: body.Color}
}

// forget чистит кэш тел, исчезнувших из всех буферизованных снимков
func (b *SnapshotBuffer) forget(latest *entry) {
	if len(b.cache) <= len(latest.bodies) {
		return
	}
	for id := range b.cache {
		alive := false
		for _, e := range b.entries {
			if _, ok := e.bodies[id]; ok {
				alive = true
				break
			}
		}
		if !alive {
			delete(b.cache, id)
		}
	}
}

// LocalVertices вершины тела из кэша в локальных координатах
func (b *SnapshotBuffer) LocalVertices(id uint64) ([]vec.Vec2Float, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.cache[id]
	if !ok {
		return nil, false
	}
	return append([]vec.Vec2Float(nil), g.local...), true
}

// Delay пересчитывает адаптивную задержку интерполяции на момент now
func (b *SnapshotBuffer) Delay(now time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateDelay(now)
}

func (b *SnapshotBuffer) updateDelay(now time.Duration) time.Duration {
	target, ok := b.targetDelay(now)
	if !ok {
		return b.delay
	}
	if !b.hasDelay {
		b.delay = target
		b.hasDelay = true
		return b.delay
	}
	blend := float64(b.delay) + (float64(target)-float64(b.delay))*b.cfg.Smoothing
	b.delay = time.Duration(math.Round(blend))
	return b.delay
}

// targetDelay среднее + JitterMul·среднее отклонение, не меньше худшего
// интервала, в пределах [MinDelay, MaxDelay]. При частоте ниже
// LossRateFraction от номинальной задержка дополнительно ограничивается.
func (b *SnapshotBuffer) targetDelay(now time.Duration) (time.Duration, bool) {
	n := len(b.arrivals)
	if n < 2 {
		return 0, false
	}
	from := n - 1 - gapWindow
	if from < 0 {
		from = 0
	}
	gaps := make([]float64, 0, n-from-1)
	worst := 0.0
	for i := from + 1; i < n; i++ {
		g := float64(b.arrivals[i] - b.arrivals[i-1])
		gaps = append(gaps, g)
		if g > worst {
			worst = g
		}
	}
	avg := 0.0
	for _, g := range gaps {
		avg += g
	}
	avg /= float64(len(gaps))
	dev := 0.0
	for _, g := range gaps {
		dev += math.Abs(g - avg)
	}
	dev /= float64(len(gaps))

	target := math.Max(avg+b.cfg.JitterMul*dev, worst)
	target = math.Max(target, float64(b.cfg.MinDelay))
	target = math.Min(target, float64(b.cfg.MaxDelay))

	if b.sendRate > 0 && b.cfg.LossDelayCap > 0 {
		received := 0
		for i := n - 1; i >= 0 && now-b.arrivals[i] <= rateWindow; i-- {
			received++
		}
		if float64(received) < b.cfg.LossRateFraction*float64(b.sendRate)*rateWindow.Seconds() {
			target = math.Min(target, float64(b.cfg.LossDelayCap))
		}
	}
	return time.Duration(target), true
}

// Trim оставляет историю на две текущие задержки, но не меньше двух
// снимков; сверх MaxBuffered старые снимки выбрасываются.
func (b *SnapshotBuffer) Trim(now time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(now)
}

func (b *SnapshotBuffer) trim(now time.Duration) {
	cutoff := now - 2*b.delay
	drop := 0
	for drop < len(b.entries)-2 && b.entries[drop+1].recv <= cutoff {
		drop++
	}
	if limit := b.cfg.MaxBuffered; limit > 0 && len(b.entries)-drop > limit {
		drop = len(b.entries) - limit
	}
	if drop == 0 {
		return
	}
	b.dropped += uint64(drop)
	b.entries = append(b.entries[:0:0], b.entries[drop:]...)
}

// view обновляет задержку, подрезает буфер и возвращает снимки для кадра
func (b *SnapshotBuffer) view(now time.Duration) ([]*entry, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.updateDelay(now)
	b.trim(now)
	return append([]*entry(nil), b.entries...), delay
}

// Len число снимков в буфере
func (b *SnapshotBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// BufferStats счётчики буфера
type BufferStats struct {
	Buffered int
	Cached   int
	Stale    uint64
	Trimmed  uint64
	Delay    time.Duration
}

// Stats снимок счётчиков
func (b *SnapshotBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Buffered: len(b.entries),
		Cached:   len(b.cache),
		Stale:    b.stale,
		Trimmed:  b.dropped,
		Delay:    b.delay,
	}
}

// Reset очищает буфер и кэш, например при старте нового матча
func (b *SnapshotBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.arrivals = nil
	b.cache = make(map[uint64]geometry)
	b.newest = 0
	b.delay = b.cfg.MinDelay
	b.hasDelay = false
}
