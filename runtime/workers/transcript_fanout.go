package workers

import (
	"context"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/observability"
)

// TranscriptFanout appends message events to every transcript sink.
//
// Persistence is best-effort: a failing sink is logged and counted, the other
// sinks still receive the event and the caller never sees the error.
//
// TranscriptFanout is safe for concurrent use when its sinks are.
type TranscriptFanout struct {
	log        *slog.Logger
	monitoring *observability.MonitoringManager
	sinks      []contract.TranscriptSink
}

func NewTranscriptFanout(log *slog.Logger, monitoring *observability.MonitoringManager, sinks ...contract.TranscriptSink) *TranscriptFanout {
	return &TranscriptFanout{log: log, monitoring: monitoring, sinks: sinks}
}

func (f *TranscriptFanout) Append(ctx context.Context, evt domain.MessageEvent) {
	for _, sink := range f.sinks {
		if err := sink.Append(ctx, evt); err != nil {
			f.monitoring.IncrTranscriptFailures()
			f.log.Error("Transcript append failed",
				"sink", sinkName(sink),
				"sender", evt.Sender,
				"receiver", evt.Receiver,
				"error", err)
		}
	}
}

func sinkName(sink contract.TranscriptSink) string {
	if named, ok := sink.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unnamed"
}
