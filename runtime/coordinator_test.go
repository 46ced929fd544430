package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/mocks"
	"peer-chat/observability"
	"peer-chat/platform"
	"peer-chat/repositories"
	"peer-chat/runtime/workers"
	"peer-chat/sink"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var transcriptLine = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] A -> self: hello$`)

type received struct {
	sender, content, timestamp string
}

// recordingObserver keeps every notification, safe for concurrent use.
type recordingObserver struct {
	mu       sync.Mutex
	rosters  [][]string
	messages []received
	errors   []string
}

func (o *recordingObserver) OnRosterChanged(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rosters = append(o.rosters, names)
}

func (o *recordingObserver) OnMessage(sender, content, timestamp string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, received{sender, content, timestamp})
}

func (o *recordingObserver) OnError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, message)
}

func (o *recordingObserver) snapshot() ([][]string, []received, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]string(nil), o.rosters...),
		append([]received(nil), o.messages...),
		append([]string(nil), o.errors...)
}

type memorySink struct {
	mu     sync.Mutex
	events []domain.MessageEvent
}

func (s *memorySink) Append(_ context.Context, evt domain.MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memorySink) all() []domain.MessageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MessageEvent(nil), s.events...)
}

func newTestCoordinator(t *testing.T, self domain.PeerID, settings Settings, directory contract.Directory,
	transport contract.Transport, observer contract.Observer, sinks ...contract.TranscriptSink) *Coordinator {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewCoordinator(log, self, settings, directory, transport, observer, sinks,
		observability.NewMonitoringManager(log, time.Second), workers.NewSupervisor(log, 10*time.Millisecond))
}

func fastSettings() Settings {
	return Settings{
		Capability:        domain.CapabilityChatService,
		DiscoveryInterval: 10 * time.Millisecond,
		InboxWake:         5 * time.Millisecond,
	}
}

func TestCoordinator_Scenario_RosterExcludesSelf(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockDirectory(ctrl)
	observer := &recordingObserver{}
	self := domain.NewPeerID("self", testPlatform)
	a := domain.NewPeerID("A", testPlatform)
	b := domain.NewPeerID("B", testPlatform)

	// Given the registry lookup returns [A, B, self]
	directory.EXPECT().Lookup(gomock.Any(), domain.CapabilityChatService).
		Return([]domain.PeerID{a, b, self}, nil).Times(1)

	coordinator := newTestCoordinator(t, self, fastSettings(), directory, mocks.NewMockTransport(ctrl), observer)
	discovery := workers.NewDiscoveryWorker(coordinator.log, self, domain.CapabilityChatService, time.Second,
		directory, coordinator.roster, observer, coordinator.monitoring, false)

	// When a refresh happens
	req.NoError(discovery.Refresh(context.Background()))

	// Then the roster is {A, B} and the observer fired once with that pair
	req.Equal([]string{"A", "B"}, coordinator.Peers())
	rosters, _, _ := observer.snapshot()
	req.Equal([][]string{{"A", "B"}}, rosters)
}

func TestCoordinator_Scenario_UnknownRecipient(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	// No transport call is expected
	transport := mocks.NewMockTransport(ctrl)
	observer := &recordingObserver{}
	archive := &memorySink{}
	self := domain.NewPeerID("self", testPlatform)

	coordinator := newTestCoordinator(t, self, Settings{PersistOutbound: true},
		mocks.NewMockDirectory(ctrl), transport, observer, archive)
	// Given the roster is {A}
	coordinator.roster.Replace([]domain.PeerID{domain.NewPeerID("A", testPlatform)})

	// When sending to B
	err := coordinator.SendTo(context.Background(), "B", "hi")

	// Then UnknownRecipient("B") without any side effect
	var unknown *errors.UnknownRecipientError
	req.ErrorAs(err, &unknown)
	req.Equal("B", unknown.Name)
	req.ErrorIs(err, errors.ErrUnknownRecipient)
	req.Empty(archive.all())
	_, messages, errs := observer.snapshot()
	req.Empty(messages)
	req.Equal([]string{"agent B is not available"}, errs)
}

func TestCoordinator_SendTo_SingleTransportCall(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	observer := &recordingObserver{}
	archive := &memorySink{}
	self := domain.NewPeerID("self", testPlatform)
	a := domain.NewPeerID("A", testPlatform)

	// Then exactly one send with A's identifier and the content
	transport.EXPECT().Send(gomock.Any(), domain.Outbound{Receiver: a, Content: "hi"}).Return(nil).Times(1)

	coordinator := newTestCoordinator(t, self, Settings{}, mocks.NewMockDirectory(ctrl), transport, observer, archive)
	coordinator.roster.Replace([]domain.PeerID{a})

	req.NoError(coordinator.SendTo(context.Background(), "A", "hi"))

	// And the sent message is shown locally but not persisted
	_, messages, errs := observer.snapshot()
	req.Len(messages, 1)
	req.Equal(domain.SelfMarker, messages[0].sender)
	req.Equal("hi", messages[0].content)
	req.Empty(errs)
	req.Empty(archive.all())
}

func TestCoordinator_SendTo_PersistOutbound(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	archive := &memorySink{}
	self := domain.NewPeerID("alice", testPlatform)
	a := domain.NewPeerID("A", testPlatform)

	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	coordinator := newTestCoordinator(t, self, Settings{PersistOutbound: true},
		mocks.NewMockDirectory(ctrl), transport, &recordingObserver{}, archive)
	coordinator.roster.Replace([]domain.PeerID{a})

	req.NoError(coordinator.SendTo(context.Background(), "A", "hi"))

	events := archive.all()
	req.Len(events, 1)
	// Then the sender is the self marker, not the agent name
	req.Equal("self", events[0].Sender)
	req.Equal("A", events[0].Receiver)
	req.True(strings.HasSuffix(events[0].TranscriptLine(), "] self -> A: hi"))
}

func TestCoordinator_SendTo_TransportFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	observer := &recordingObserver{}
	self := domain.NewPeerID("self", testPlatform)
	a := domain.NewPeerID("A", testPlatform)
	cause := fmt.Errorf("link down")

	// Given the transport fails, no retry happens
	transport.EXPECT().Send(gomock.Any(), gomock.Any()).Return(cause).Times(1)

	coordinator := newTestCoordinator(t, self, Settings{}, mocks.NewMockDirectory(ctrl), transport, observer)
	coordinator.roster.Replace([]domain.PeerID{a})

	err := coordinator.SendTo(context.Background(), "A", "hi")

	req.ErrorIs(err, errors.ErrTransportFailure)
	req.ErrorIs(err, cause)
	_, messages, errs := observer.snapshot()
	req.Empty(messages)
	req.Len(errs, 1)
}

func TestCoordinator_Start_RegistrationFailureIsNotFatal(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockDirectory(ctrl)
	transport := mocks.NewMockTransport(ctrl)
	observer := &recordingObserver{}
	self := domain.NewPeerID("self", testPlatform)

	directory.EXPECT().Register(gomock.Any(), self, domain.CapabilityChatService).
		Return(fmt.Errorf("df unavailable")).Times(1)
	directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	directory.EXPECT().Deregister(gomock.Any(), self).Return(fmt.Errorf("df unavailable")).Times(1)
	transport.EXPECT().Receive(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, wait time.Duration) (domain.Inbound, bool, error) {
			select {
			case <-ctx.Done():
				return domain.Inbound{}, false, ctx.Err()
			case <-time.After(wait):
				return domain.Inbound{}, false, nil
			}
		}).AnyTimes()

	coordinator := newTestCoordinator(t, self, fastSettings(), directory, transport, observer)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Then the coordinator keeps running until canceled
	req.NoError(coordinator.Start(ctx))

	_, _, errs := observer.snapshot()
	req.NotEmpty(errs)
	req.Contains(errs[0], errors.ErrRegistration.Error())
}

// Two agents on the in-process platform discover each other, exchange a
// message and leave the directory on shutdown.
func TestCoordinator_EndToEnd_OnPlatform(t *testing.T) {
	req := require.New(t)
	directory := platform.NewDirectory()
	mailboxes := platform.NewMailboxes(8)
	selfID := domain.NewPeerID("self", testPlatform)
	aID := domain.NewPeerID("A", testPlatform)
	path := filepath.Join(t.TempDir(), "log_file.txt")
	transcript := sink.NewFileTranscript(path)

	selfObserver := &recordingObserver{}
	aObserver := &recordingObserver{}
	self := newTestCoordinator(t, selfID, fastSettings(), directory, mailboxes.Open(selfID), selfObserver, transcript)
	a := newTestCoordinator(t, aID, fastSettings(), directory, mailboxes.Open(aID), aObserver, transcript)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, c := range []*Coordinator{self, a} {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			_ = c.Start(ctx)
		}(c)
	}

	// Given both agents see each other
	req.Eventually(func() bool {
		return len(self.Peers()) == 1 && len(a.Peers()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"A"}, self.Peers())
	req.Equal([]string{"self"}, a.Peers())

	// When A says hello to self
	req.NoError(a.SendTo(ctx, "self", "hello"))

	// Then self shows it once
	req.Eventually(func() bool {
		_, messages, _ := selfObserver.snapshot()
		return len(messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, messages, _ := selfObserver.snapshot()
	req.Equal("A", messages[0].sender)
	req.Equal("hello", messages[0].content)

	cancel()
	wg.Wait()

	// And the transcript holds exactly the received line
	content, err := os.ReadFile(path)
	req.NoError(err)
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(string(content), "\r\n", "\n")), "\n")
	req.Len(lines, 1)
	req.Regexp(transcriptLine, lines[0])

	// And both agents left the directory
	peers, err := directory.Lookup(context.Background(), domain.CapabilityChatService)
	req.NoError(err)
	req.Empty(peers)
}

func TestCoordinator_Stop(t *testing.T) {
	req := require.New(t)
	directory := platform.NewDirectory()
	selfID := domain.NewPeerID("self", testPlatform)
	coordinator := newTestCoordinator(t, selfID, fastSettings(), directory,
		platform.NewMailboxes(1).Open(selfID), &recordingObserver{})

	done := make(chan error, 1)
	go func() { done <- coordinator.Start(context.Background()) }()

	req.Eventually(func() bool {
		peers, _ := directory.Lookup(context.Background(), domain.CapabilityChatService)
		return len(peers) == 1
	}, time.Second, 5*time.Millisecond)

	coordinator.Stop()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("coordinator did not stop")
	}
	peers, err := directory.Lookup(context.Background(), domain.CapabilityChatService)
	req.NoError(err)
	req.Empty(peers)
}

// With expiring directory entries, a running agent stays discoverable well
// past the ttl because every discovery tick registers it again.
func TestCoordinator_RenewRegistration_OutlivesTTL(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	directory := repositories.NewDirectoryRepository(db, log, time.Second)
	selfID := domain.NewPeerID("self", testPlatform)
	settings := fastSettings()
	settings.DiscoveryInterval = 100 * time.Millisecond
	settings.RenewRegistration = true
	coordinator := newTestCoordinator(t, selfID, settings, directory,
		platform.NewMailboxes(1).Open(selfID), &recordingObserver{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coordinator.Start(ctx) }()

	// Given the agent registered with a one second ttl
	req.Eventually(func() bool {
		peers, _ := directory.Lookup(context.Background(), domain.CapabilityChatService)
		return len(peers) == 1
	}, time.Second, 10*time.Millisecond)

	// When more than two ttl periods pass while discovery runs
	time.Sleep(2500 * time.Millisecond)

	// Then the agent is still listed
	peers, err := directory.Lookup(context.Background(), domain.CapabilityChatService)
	req.NoError(err)
	req.Equal([]domain.PeerID{selfID}, peers)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("coordinator did not stop")
	}
}
