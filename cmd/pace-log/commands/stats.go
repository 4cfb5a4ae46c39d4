package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pace-tool/pace-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Runs              map[string]*RunSummary
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// RunSummary holds statistics for a single pace-tool invocation.
type RunSummary struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Reader    string
	APDUs     int
	Sessions  map[string]string // session ID -> secret kind
	Outcome   string
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Runs:              make(map[string]*RunSummary),
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	if event.Frame != nil {
		s.EventsByDirection[event.Direction]++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	run, ok := s.Runs[event.RunID]
	if !ok {
		run = &RunSummary{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Sessions:  make(map[string]string),
		}
		s.Runs[event.RunID] = run
	}
	run.Events++
	if event.Timestamp.After(run.LastSeen) {
		run.LastSeen = event.Timestamp
	}
	if event.Reader != "" && run.Reader == "" {
		run.Reader = event.Reader
	}
	if event.Frame != nil && event.Layer == log.LayerTransport && event.Direction == log.DirectionOut {
		run.APDUs++
	}
	if event.SessionID != "" {
		if _, seen := run.Sessions[event.SessionID]; !seen || event.SecretKind != "" {
			run.Sessions[event.SessionID] = event.SecretKind
		}
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityWorkflow {
		run.Outcome = sc.NewState
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== PACE Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerSecureMessaging, log.LayerWorkflow} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryAPDU, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "APDUs by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Runs: %d\n", len(stats.Runs))
	if len(stats.Runs) > 0 {
		type runInfo struct {
			id    string
			stats *RunSummary
		}
		runs := make([]runInfo, 0, len(stats.Runs))
		for id, rs := range stats.Runs {
			runs = append(runs, runInfo{id, rs})
		}
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].stats.FirstSeen.Before(runs[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, r := range runs {
			duration := r.stats.LastSeen.Sub(r.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, %d APDUs, duration %s\n", shortID(r.id), r.stats.Events, r.stats.APDUs, duration)
			if r.stats.Reader != "" {
				fmt.Fprintf(w, "           Reader: %s\n", r.stats.Reader)
			}
			if len(r.stats.Sessions) > 0 {
				ids := make([]string, 0, len(r.stats.Sessions))
				for id := range r.stats.Sessions {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(w, "           Session: %s %s\n", shortID(id), r.stats.Sessions[id])
				}
			}
			if r.stats.Outcome != "" {
				fmt.Fprintf(w, "           Outcome: %s\n", r.stats.Outcome)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
