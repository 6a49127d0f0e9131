package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"quotekeeper/internal/model"
)

// FormatBackfillReport formats a finished backfill run into a Telegram
// message.
func FormatBackfillReport(symbols []string, stats model.BackfillStats) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🧩 <b>Backfill report</b> | %s\n\n", time.Now().Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Symbols: %s\n", strings.Join(symbols, ", ")))
	b.WriteString(fmt.Sprintf("Chunks fetched: %d | skipped: %d\n", stats.ChunksFetched, stats.ChunksSkipped))
	b.WriteString(fmt.Sprintf("Snapshots added: %d\n", stats.SnapshotsAdded))
	if stats.ChunkErrors > 0 {
		b.WriteString(fmt.Sprintf("⚠️ Chunk errors: %d\n", stats.ChunkErrors))
	}
	b.WriteString(fmt.Sprintf("Elapsed: %s\n", stats.Elapsed.Round(time.Second)))
	return b.String()
}

// FormatCacheStatistics formats the cache overview for display.
func FormatCacheStatistics(stats model.CacheStatistics) string {
	var b strings.Builder
	b.WriteString("📦 <b>Cache status</b>\n\n")
	b.WriteString(fmt.Sprintf("Tracked symbols: %d\n", stats.Tracked))

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		b.WriteString(fmt.Sprintf("  %s: %d\n", status, stats.ByStatus[model.CacheStatus(status)]))
	}

	if len(stats.Suspended) > 0 {
		b.WriteString(fmt.Sprintf("\n🚫 Suspended: %s\n", strings.Join(stats.Suspended, ", ")))
	}
	return b.String()
}

// FormatRefreshSummary formats one refresh pass outcome.
func FormatRefreshSummary(attempted, updated, failed []string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔄 <b>Refresh</b> | %s\n\n", time.Now().Format("15:04:05")))
	b.WriteString(fmt.Sprintf("Attempted: %d | Updated: %d\n", len(attempted), len(updated)))
	if len(failed) > 0 {
		b.WriteString(fmt.Sprintf("❌ Failed: %s\n", strings.Join(failed, ", ")))
	}
	return b.String()
}
