package workers

import (
	"context"
	stderrors "errors"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/observability"
	"time"
)

var _ contract.Worker = (*InboxWorker)(nil)

// InboxWorker is the receive loop of one participant.
// It waits on the transport for at most wake at a time, so cancellation is
// noticed without busy-spinning, and hands every message to the observer and
// the transcript before receiving the next one.
type InboxWorker struct {
	log        *slog.Logger
	self       domain.PeerID
	wake       time.Duration
	transport  contract.Transport
	observer   contract.Observer
	transcript *TranscriptFanout
	monitoring *observability.MonitoringManager
	now        func() time.Time
}

func NewInboxWorker(
	log *slog.Logger,
	self domain.PeerID,
	wake time.Duration,
	transport contract.Transport,
	observer contract.Observer,
	transcript *TranscriptFanout,
	monitoring *observability.MonitoringManager,
	now func() time.Time,
) *InboxWorker {
	return &InboxWorker{
		log:        log,
		self:       self,
		wake:       wake,
		transport:  transport,
		observer:   observer,
		transcript: transcript,
		monitoring: monitoring,
		now:        now,
	}
}

func (w *InboxWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.log.Debug("Stopping inbox")
			return ctx.Err()
		}

		in, ok, err := w.transport.Receive(ctx, w.wake)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case stderrors.Is(err, errors.ErrTransportClosed):
			w.log.Info("Transport closed, inbox finished")
			return nil
		case err != nil:
			w.log.Warn("Receive failed", "error", err)
			w.observer.OnError(err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.wake):
			}
		case ok:
			w.Deliver(ctx, in)
		}
	}
}

// Deliver turns a received message into a MessageEvent stamped now, shows it
// and appends it to the transcript.
func (w *InboxWorker) Deliver(ctx context.Context, in domain.Inbound) domain.MessageEvent {
	evt := domain.NewMessageEvent(in.Sender.DisplayName(), w.self.DisplayName(), in.Content, w.now())
	w.monitoring.RecordReceived(w.self.DisplayName(), evt.Sender, evt.Timestamp)
	w.log.Debug("Message received", "from", in.Sender)

	w.observer.OnMessage(evt.Sender, evt.Content, evt.Timestamp)
	w.transcript.Append(ctx, evt)
	return evt
}
