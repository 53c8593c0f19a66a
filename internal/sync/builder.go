package sync

import (
	"sort"
	"time"

	"github.com/annel0/contraption-arena/internal/config"
	"github.com/annel0/contraption-arena/internal/protocol"
)

// SnapshotBuilder собирает снимки на хосте. Геометрия тела отправляется при
// первом появлении, затем повторно не чаще ResendInterval и не более
// MaxResends тел за снимок, начиная с самых давно отправленных.
type SnapshotBuilder struct {
	resendInterval time.Duration
	maxResends     int

	seq      uint32
	lastSent map[uint64]time.Duration
}

// NewSnapshotBuilder создаёт сборщик
func NewSnapshotBuilder(cfg config.SyncConfig) *SnapshotBuilder {
	return &SnapshotBuilder{
		resendInterval: cfg.ResendInterval,
		maxResends:     cfg.MaxResends,
		lastSent:       make(map[uint64]time.Duration),
	}
}

// BuildStats счётчики последнего снимка
type BuildStats struct {
	Bodies   int
	Geometry int
	Resent   int
}

// Build собирает снимок на момент now по живым телам и накопленным эффектам.
// Тела, которых больше нет, забываются: при повторном появлении id их
// геометрия снова будет отправлена как при первом появлении.
func (sb *SnapshotBuilder) Build(now time.Duration, bodies []RenderBody, effects []protocol.Effect) (*protocol.Snapshot, BuildStats) {
	sb.seq++
	snap := &protocol.Snapshot{
		Seq:       sb.seq,
		Timestamp: now.Milliseconds(),
		Bodies:    make([]protocol.Body, 0, len(bodies)),
		Effects:   effects,
	}

	seen := make(map[uint64]struct{}, len(bodies))
	withGeometry := make(map[uint64]bool, len(bodies))
	var stale []uint64
	for _, b := range bodies {
		seen[b.ID] = struct{}{}
		last, ok := sb.lastSent[b.ID]
		switch {
		case !ok:
			withGeometry[b.ID] = true
		case now-last >= sb.resendInterval:
			stale = append(stale, b.ID)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		a, b := sb.lastSent[stale[i]], sb.lastSent[stale[j]]
		if a != b {
			return a < b
		}
		return stale[i] < stale[j]
	})
	resent := 0
	for _, id := range stale {
		if resent >= sb.maxResends {
			break
		}
		withGeometry[id] = true
		resent++
	}

	stats := BuildStats{Bodies: len(bodies), Resent: resent}
	for _, b := range bodies {
		geo := withGeometry[b.ID]
		if geo {
			sb.lastSent[b.ID] = now
			stats.Geometry++
		}
		snap.Bodies = append(snap.Bodies, b.wire(geo))
	}

	for id := range sb.lastSent {
		if _, ok := seen[id]; !ok {
			delete(sb.lastSent, id)
		}
	}

	return snap, stats
}

// Seq номер последнего собранного снимка
func (sb *SnapshotBuilder) Seq() uint32 {
	return sb.seq
}

// Tracked сколько тел сейчас отслеживается
func (sb *SnapshotBuilder) Tracked() int {
	return len(sb.lastSent)
}

// Reset забывает всё, например при новом подключении клиента
func (sb *SnapshotBuilder) Reset() {
	sb.lastSent = make(map[uint64]time.Duration)
}
