package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/contraption-arena/internal/api/replay"
)

const (
	defaultServerAddr = "http://localhost:8088"
	timeFormat        = "2006-01-02T15:04:05Z"
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "REST API base URL")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		matchID    = flag.String("match", "", "Match ID filter")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m) or RFC3339")
		until      = flag.String("until", "", "End time (RFC3339 format)")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
		interval   = flag.Duration("interval", 2*time.Second, "Poll interval for -follow")
	)
	flag.Parse()

	client := &eventClient{
		base: strings.TrimRight(*serverAddr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	endTime := time.Now().UTC()
	if *until != "" {
		t, err := time.Parse(timeFormat, *until)
		if err != nil {
			log.Fatalf("❌ Invalid until time: %v", err)
		}
		endTime = t
	}
	startTime, err := parseSinceTime(*since, endTime)
	if err != nil {
		log.Fatalf("❌ Invalid since time: %v", err)
	}

	q := filter{
		types:   parseStringList(*eventTypes),
		matchID: *matchID,
		since:   startTime,
		limit:   *limit,
	}
	if *until != "" {
		q.until = endTime
	}

	ctx := context.Background()
	switch *command {
	case "tail":
		if err := tailEvents(ctx, client, q, *follow, *interval); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}
	case "stats":
		if err := showStats(ctx, client, q); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}
	case "types":
		if err := showTypes(ctx, client); err != nil {
			log.Fatalf("❌ Types failed: %v", err)
		}
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

type filter struct {
	types   []string
	matchID string
	since   time.Time
	until   time.Time
	limit   int
}

func (f filter) values() url.Values {
	v := url.Values{}
	if len(f.types) > 0 {
		v.Set("type", strings.Join(f.types, ","))
	}
	if f.matchID != "" {
		v.Set("match", f.matchID)
	}
	if !f.since.IsZero() {
		v.Set("since", f.since.Format(time.RFC3339Nano))
	}
	if !f.until.IsZero() {
		v.Set("until", f.until.Format(time.RFC3339Nano))
	}
	if f.limit > 0 {
		v.Set("limit", strconv.Itoa(f.limit))
	}
	return v
}

type eventClient struct {
	base string
	http *http.Client
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// get выполняет запрос и разбирает поле data ответа в out
func (c *eventClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	if !body.Success {
		return fmt.Errorf("%s: %s (%s)", path, body.Message, resp.Status)
	}
	return json.Unmarshal(body.Data, out)
}

// tailEvents выводит события; с follow опрашивает сервер, сдвигая since
func tailEvents(ctx context.Context, c *eventClient, q filter, follow bool, interval time.Duration) error {
	fmt.Printf("🎬 Tailing events (limit: %d, follow: %v)\n", q.limit, follow)

	total := 0
	seen := make(map[string]bool)
	for {
		var events []replay.Event
		if err := c.get(ctx, "/api/events", q.values(), &events); err != nil {
			return err
		}
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			printEvent(ev)
			total++
			if ev.Timestamp.After(q.since) {
				q.since = ev.Timestamp
			}
		}
		if !follow {
			break
		}
		time.Sleep(interval)
	}

	fmt.Printf("\n📊 Total events: %d\n", total)
	return nil
}

// showStats выводит статистику событий
func showStats(ctx context.Context, c *eventClient, q filter) error {
	fmt.Println("📊 Event statistics")

	q.limit = 0
	var stats replay.EventStats
	if err := c.get(ctx, "/api/events/stats", q.values(), &stats); err != nil {
		return err
	}
	if stats.From != nil && stats.To != nil {
		fmt.Printf("Period: %s - %s\n", stats.From.Format(timeFormat), stats.To.Format(timeFormat))
	}
	fmt.Printf("Total events: %d\n", stats.TotalEvents)
	fmt.Println("\nBy event type:")
	for typ, n := range stats.EventTypes {
		fmt.Printf("  %s: %d events\n", typ, n)
	}
	return nil
}

// showTypes выводит встречавшиеся типы событий
func showTypes(ctx context.Context, c *eventClient) error {
	fmt.Println("📋 Available event types")

	var types []string
	if err := c.get(ctx, "/api/events/types", nil, &types); err != nil {
		return err
	}
	for _, t := range types {
		fmt.Printf("  %s\n", t)
	}
	return nil
}

// printEvent выводит событие в читаемом формате
func printEvent(ev replay.Event) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		ev.MatchID,
		ev.Type,
		ev.ID)
	if len(ev.Data) > 0 && string(ev.Data) != "null" {
		fmt.Printf("  %s\n", ev.Data)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
