package platform

import (
	"context"
	"fmt"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"sync"
	"time"
)

var _ contract.Transport = (*Transport)(nil)

// Mailboxes routes messages between agents hosted by the same process.
// Each agent owns a buffered mailbox; a full mailbox rejects the send.
type Mailboxes struct {
	mu      sync.RWMutex
	size    int
	boxes   map[domain.PeerID]chan domain.Inbound
	closing chan struct{}
	once    sync.Once
}

func NewMailboxes(size int) *Mailboxes {
	if size <= 0 {
		size = 1
	}
	return &Mailboxes{
		size:    size,
		boxes:   make(map[domain.PeerID]chan domain.Inbound),
		closing: make(chan struct{}),
	}
}

// Open creates the mailbox of peer, or returns the existing one, and gives
// back the transport endpoint bound to it.
func (m *Mailboxes) Open(peer domain.PeerID) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[peer]
	if !ok {
		box = make(chan domain.Inbound, m.size)
		m.boxes[peer] = box
	}
	return &Transport{self: peer, mailboxes: m, inbox: box}
}

// Remove drops the mailbox of peer. Messages still queued are lost.
func (m *Mailboxes) Remove(peer domain.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boxes, peer)
}

// Close makes every pending and future Receive return ErrTransportClosed.
func (m *Mailboxes) Close() {
	m.once.Do(func() { close(m.closing) })
}

func (m *Mailboxes) deliver(to domain.PeerID, in domain.Inbound) error {
	select {
	case <-m.closing:
		return errors.ErrTransportClosed
	default:
	}

	m.mu.RLock()
	box, ok := m.boxes[to]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownPeer, to)
	}

	select {
	case box <- in:
		return nil
	default:
		return fmt.Errorf("%w: %s", errors.ErrMailboxFull, to)
	}
}

// Transport is the endpoint of one agent.
type Transport struct {
	self      domain.PeerID
	mailboxes *Mailboxes
	inbox     chan domain.Inbound
}

func (t *Transport) Send(ctx context.Context, out domain.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.mailboxes.deliver(out.Receiver, domain.Inbound{Sender: t.self, Content: out.Content})
}

// Receive waits for a message for at most wait.
func (t *Transport) Receive(ctx context.Context, wait time.Duration) (domain.Inbound, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case in := <-t.inbox:
		return in, true, nil
	case <-ctx.Done():
		return domain.Inbound{}, false, ctx.Err()
	case <-t.mailboxes.closing:
		return domain.Inbound{}, false, errors.ErrTransportClosed
	case <-timer.C:
		return domain.Inbound{}, false, nil
	}
}
