package internal

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"peer-chat/contract"
	"peer-chat/observability"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

//go:embed inspect.html
var templatesFS embed.FS

const (
	InspectEndpoint = "/inspect"
	defaultPrefix   = "svc:"
	shutdownTimeout = 2 * time.Second
)

var _ contract.Worker = (*DebugServer)(nil)

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	Subject   string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// DebugServer serves a read-only page listing badger keys by prefix,
// next to the process counters.
type DebugServer struct {
	log           *slog.Logger
	db            *badger.DB
	port          int
	mapper        RowMapper
	statsProvider StatsProvider
	tmpl          *template.Template
}

func NewDebugServer(log *slog.Logger, db *badger.DB, port int, mapper RowMapper, statsProvider StatsProvider) *DebugServer {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return &DebugServer{
		log:           log,
		db:            db,
		port:          port,
		mapper:        mapper,
		statsProvider: statsProvider,
		tmpl:          template.Must(template.ParseFS(templatesFS, "inspect.html")),
	}
}

func (s *DebugServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(InspectEndpoint, s.inspect)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.stats())
	})
	return mux
}

// Run listens until ctx is canceled.
func (s *DebugServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Badger inspector available", "url", fmt.Sprintf("http://%s%s", server.Addr, InspectEndpoint))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return fmt.Errorf("debug server: %w", err)
	}
}

func (s *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = defaultPrefix
	}

	data := PageData{Prefix: prefix, Stats: s.stats()}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				data.Items = append(data.Items, s.mapper(string(item.Key()), val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("Inspect scan failed", "prefix", prefix, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = s.tmpl.Execute(w, data)
}

func (s *DebugServer) stats() map[string]any {
	if s.statsProvider == nil {
		return map[string]any{}
	}
	return s.statsProvider()
}

// MonitoringStats exposes the monitoring counters to the inspector.
func MonitoringStats(mm *observability.MonitoringManager) StatsProvider {
	return func() map[string]any {
		stats := mm.GetLatest()
		return map[string]any{
			"Refreshes":          stats.Refreshes,
			"SkippedTicks":       stats.SkippedTicks,
			"LookupFailures":     stats.LookupFailures,
			"Received":           stats.Received,
			"Sent":               stats.Sent,
			"DispatchFailures":   stats.DispatchFailures,
			"TranscriptFailures": stats.TranscriptFailures,
			"RSSMb":              stats.RSSBytes / 1024 / 1024,
		}
	}
}

// DefaultMapper understands the directory keys (svc:{capability}:{stamp}:{peer}),
// the directory index (reg:{peer}:{capability}) and the archive keys
// (msg:{stamp}:{uuid}).
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      "RAW",
		Timestamp: "--:--:--",
		Subject:   "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	switch {
	case parts[0] == "svc" && len(parts) >= 4:
		row.Type = "SERVICE"
		row.Timestamp = formatStamp(parts[2])
		row.Subject = strings.Join(parts[3:], ":")
		row.Detail = parts[1]
	case parts[0] == "reg" && len(parts) >= 3:
		row.Type = "INDEX"
		row.Subject = strings.Join(parts[1:len(parts)-1], ":")
		row.Detail = string(val)
	case parts[0] == "msg" && len(parts) >= 3:
		row.Type = "MESSAGE"
		row.Timestamp = formatStamp(parts[1])
		row.Subject = parts[2]
		if len(row.Subject) > 8 {
			row.Subject = row.Subject[:8]
		}
		var msg struct {
			Sender   string `json:"sender"`
			Receiver string `json:"receiver"`
			Content  string `json:"content"`
		}
		if err := json.Unmarshal(val, &msg); err == nil {
			row.Detail = fmt.Sprintf("%s -> %s: %s", msg.Sender, msg.Receiver, msg.Content)
		}
	}
	return row
}

func formatStamp(raw string) string {
	tsNano, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "--:--:--"
	}
	return time.Unix(0, tsNano).Format("15:04:05")
}
