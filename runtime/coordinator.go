// Package runtime wires one participant: presence refresh, inbox loop and
// send-by-name routing. It holds no transport or registry logic of its own.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/observability"
	"peer-chat/runtime/workers"
	"time"
)

const deregisterTimeout = 2 * time.Second

type Settings struct {
	Capability        string
	DiscoveryInterval time.Duration
	InboxWake         time.Duration
	// PersistOutbound also appends sent events to the transcript.
	// Off by default: only received events are persisted.
	PersistOutbound bool
	// RenewRegistration registers again on every discovery tick, for
	// directories whose entries expire.
	RenewRegistration bool
}

// Coordinator is the process-local component of one participant.
type Coordinator struct {
	log        *slog.Logger
	self       domain.PeerID
	settings   Settings
	directory  contract.Directory
	transport  contract.Transport
	observer   contract.Observer
	roster     *Roster
	clock      *Clock
	transcript *workers.TranscriptFanout
	monitoring *observability.MonitoringManager
	supervisor contract.ISupervisor
}

func NewCoordinator(
	log *slog.Logger,
	self domain.PeerID,
	settings Settings,
	directory contract.Directory,
	transport contract.Transport,
	observer contract.Observer,
	sinks []contract.TranscriptSink,
	monitoring *observability.MonitoringManager,
	supervisor contract.ISupervisor,
) *Coordinator {
	if observer == nil {
		observer = noopObserver{}
	}
	if settings.Capability == "" {
		settings.Capability = domain.CapabilityChatService
	}
	log = log.With("agent", self.DisplayName())
	return &Coordinator{
		log:        log,
		self:       self,
		settings:   settings,
		directory:  directory,
		transport:  transport,
		observer:   observer,
		roster:     NewRoster(self),
		clock:      NewClock(time.Now),
		transcript: workers.NewTranscriptFanout(log, monitoring, sinks...),
		monitoring: monitoring,
		supervisor: supervisor,
	}
}

func (c *Coordinator) Self() domain.PeerID { return c.self }

// Peers returns the display names of the current roster, in roster order.
func (c *Coordinator) Peers() []string {
	return domain.DisplayNames(c.roster.Snapshot())
}

// Start registers the participant, runs discovery and the inbox until ctx is
// canceled or Stop is called, then deregisters. A failed registration is
// reported but does not prevent the participant from chatting.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.register(ctx); err != nil {
		c.log.Error("Registration failed, peers will not discover this agent", "error", err)
		c.observer.OnError(err.Error())
	}

	c.supervisor.Add(
		workers.NewDiscoveryWorker(c.log, c.self, c.settings.Capability, c.settings.DiscoveryInterval,
			c.directory, c.roster, c.observer, c.monitoring, c.settings.RenewRegistration),
		workers.NewInboxWorker(c.log, c.self, c.settings.InboxWake,
			c.transport, c.observer, c.transcript, c.monitoring, c.clock.Now),
	)

	c.log.Info("Coordinator started", "capability", c.settings.Capability, "interval", c.settings.DiscoveryInterval)
	c.supervisor.Run(ctx)

	c.deregister(ctx)
	c.log.Info("Coordinator stopped")
	return nil
}

// Stop cancels discovery and the inbox. Start returns after deregistration.
func (c *Coordinator) Stop() {
	c.supervisor.Stop()
}

func (c *Coordinator) register(ctx context.Context) error {
	if err := c.directory.Register(ctx, c.self, c.settings.Capability); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrRegistration, err)
	}
	c.log.Debug("Registered", "service", domain.ServiceName(c.self))
	return nil
}

func (c *Coordinator) deregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deregisterTimeout)
	defer cancel()
	if err := c.directory.Deregister(ctx, c.self); err != nil {
		c.log.Warn("Deregistration failed", "error", err)
	}
}

// SendTo resolves displayName against the roster and hands content to the
// transport. Delivery is fire-and-forget: success means the transport took
// the message. Failures are reported to the observer and returned, never
// retried.
func (c *Coordinator) SendTo(ctx context.Context, displayName, content string) error {
	peer, ok := c.roster.Resolve(displayName)
	if !ok {
		err := &errors.UnknownRecipientError{Name: displayName}
		c.dispatchFailed(err)
		return err
	}

	if err := c.transport.Send(ctx, domain.Outbound{Receiver: peer, Content: content}); err != nil {
		failure := &errors.TransportFailureError{Peer: peer.String(), Cause: err}
		c.dispatchFailed(failure)
		return failure
	}

	evt := domain.NewMessageEvent(domain.SelfMarker, peer.DisplayName(), content, c.clock.Now())
	c.monitoring.RecordSent(c.self.DisplayName(), evt.Receiver, evt.Timestamp)
	c.observer.OnMessage(evt.Sender, evt.Content, evt.Timestamp)
	if c.settings.PersistOutbound {
		c.transcript.Append(ctx, evt)
	}
	return nil
}

func (c *Coordinator) dispatchFailed(err error) {
	c.monitoring.IncrDispatchFailures()
	c.log.Warn("Send failed", "error", err)
	c.observer.OnError(err.Error())
}

type noopObserver struct{}

func (noopObserver) OnRosterChanged([]string)         {}
func (noopObserver) OnMessage(string, string, string) {}
func (noopObserver) OnError(string)                   {}
