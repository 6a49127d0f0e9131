package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quotekeeper/internal/model"
)

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotReq sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "chat42", "")
	n.apiBase = srv.URL
	if err := n.Send("daily <b>report</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bottoken123/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.ChatID != "chat42" || gotReq.Text != "daily <b>report</b>" || gotReq.ParseMode != "HTML" {
		t.Errorf("unexpected payload: %+v", gotReq)
	}
}

func TestTelegramSendSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("bot was blocked"))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "chat", "")
	n.apiBase = srv.URL
	err := n.Send("hi")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "status 403") {
		t.Errorf("error = %v, want status 403 mentioned", err)
	}
}

func TestSendWithRetryHonorsCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "chat", "")
	n.apiBase = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.SendWithRetry(ctx, "hi", 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFormatBackfillReport(t *testing.T) {
	stats := model.BackfillStats{
		Symbols:        2,
		ChunksFetched:  7,
		ChunksSkipped:  3,
		ChunkErrors:    1,
		SnapshotsAdded: 1820,
		Elapsed:        95 * time.Second,
	}
	msg := FormatBackfillReport([]string{"AAPL", "MSFT"}, stats)
	for _, want := range []string{"AAPL, MSFT", "Chunks fetched: 7", "skipped: 3", "Snapshots added: 1820", "Chunk errors: 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("report missing %q:\n%s", want, msg)
		}
	}

	clean := FormatBackfillReport([]string{"AAPL"}, model.BackfillStats{ChunksFetched: 5})
	if strings.Contains(clean, "Chunk errors") {
		t.Errorf("clean report should omit error line:\n%s", clean)
	}
}

func TestFormatCacheStatisticsListsSuspended(t *testing.T) {
	stats := model.CacheStatistics{
		Tracked: 3,
		ByStatus: map[model.CacheStatus]int{
			model.StatusFresh:     2,
			model.StatusSuspended: 1,
		},
		Suspended: []string{"TSLA"},
	}
	msg := FormatCacheStatistics(stats)
	if !strings.Contains(msg, "Tracked symbols: 3") || !strings.Contains(msg, "TSLA") {
		t.Errorf("unexpected message:\n%s", msg)
	}
}
