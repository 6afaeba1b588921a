package metrics

import (
	"fmt"
	"strings"
	"time"
)

// The snapshot layout is a contract for external scrapers: metric names,
// descriptions, label sets and ordering must not change between calls or
// releases. Three aggregate families are rendered — "client" for
// currently-open connections (recomputed at every export), "former" for
// disconnected ones, and "total" for their combination (computed here,
// never stored).

func writeHeader(sb *strings.Builder, name, kind, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func writeMetric(sb *strings.Builder, name, kind, help string, value uint64) {
	writeHeader(sb, name, kind, help)
	fmt.Fprintf(sb, "%s %d\n\n", name, value)
}

// writeHistogram renders the fixed 32-bucket duration histogram. The le
// label of bucket i is 2^i-1 seconds, doubling from 0s to 2147483647s.
func writeHistogram(sb *strings.Builder, name, help string, counts [histogramBuckets]uint64) {
	writeHeader(sb, name, "histogram", help)
	for i, count := range counts {
		le := uint64(1)<<uint(i) - 1
		fmt.Fprintf(sb, "%s{le=%ds} %d\n", name, le, count)
	}
}

// writeAggregate renders one population's metric family. by and of are
// the population clauses of the help texts ("by current clients", "of
// current clients", "overall").
func writeAggregate(sb *strings.Builder, prefix, by, of string, agg aggregate) {
	writeMetric(sb, prefix+"_maximum_connection_time_seconds", "counter",
		"Length in seconds of longest connection "+by+".", agg.maximumConnectionTime)
	writeMetric(sb, prefix+"_minimum_connection_time_seconds", "counter",
		"Length in seconds of shortest connection "+by+".", agg.minimumConnectionTime)
	writeMetric(sb, prefix+"_sent_chunks_sum", "counter",
		"Sum of sent chunks "+by+".", agg.sentChunksSum)
	writeMetric(sb, prefix+"_sent_eastereggs_sum", "counter",
		"Sum of sent eastereggs "+by+".", agg.sentEasterEggsSum)
	writeMetric(sb, prefix+"_sent_banners_sum", "counter",
		"Sum of sent banners "+by+".", agg.sentBannersSum)
	writeMetric(sb, prefix+"_connection_time_seconds_sum", "counter",
		"Sum of connection time "+of+".", agg.connectionTime)
	writeHistogram(sb, prefix+"_connection_time_seconds_bucket",
		"A histogram of the connection time "+of+".", agg.connectionTimeTill)
}

// Export renders the current registry state as a flat text snapshot.
// It never mutates the registry.
func (r *Registry) Export() string {
	return r.ExportAt(time.Now())
}

// ExportAt is Export with an injectable clock. Live connection durations
// are computed against now at call time, never cached.
func (r *Registry) ExportAt(now time.Time) string {
	// The table lock is held until the former aggregate has been copied:
	// a disconnect interleaving between the two reads would count its
	// client in both the live fold and the former aggregate. Lock order
	// matches Disconnect (table, then former).
	live := newAggregate()
	r.mu.Lock()
	for _, c := range r.clients {
		if c == nil {
			continue
		}
		live.observe(elapsedSeconds(c.start, now), c.sentChunks, c.sentEasterEggs, c.sentBanners)
	}
	r.formerMu.Lock()
	former := r.former
	r.formerMu.Unlock()
	r.mu.Unlock()

	total := combine(live, former)

	var sb strings.Builder
	sb.Grow(1 << 13)

	writeMetric(&sb, "uptime_seconds", "gauge",
		"Number of seconds since startup.", elapsedSeconds(r.startup, now))
	writeMetric(&sb, "connections_count", "counter",
		"Number of current connections.", uint64(r.connectionsCount.Load()))
	writeMetric(&sb, "connections_total", "counter",
		"Total number of connections.", uint64(r.connectionsTotal.Load()))

	writeAggregate(&sb, "client", "by current clients", "of current clients", live)
	sb.WriteString("\n")
	writeAggregate(&sb, "former", "by former clients", "of former clients", former)
	sb.WriteString("\n")
	writeAggregate(&sb, "total", "overall", "overall", total)

	return sb.String()
}
