// Package platform hosts several agents in one process: an ordered in-memory
// service directory and a mailbox transport between the hosted agents.
package platform

import (
	"context"
	"peer-chat/contract"
	"peer-chat/domain"
	"sync"
	"time"

	"github.com/samber/lo"
)

var _ contract.Directory = (*Directory)(nil)

// Directory keeps registrations in registration order.
// Registering twice keeps the original position.
type Directory struct {
	mu            sync.RWMutex
	registrations []domain.Registration
}

func NewDirectory() *Directory {
	return &Directory{}
}

func (d *Directory) Register(_ context.Context, self domain.PeerID, capability string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lo.ContainsBy(d.registrations, func(r domain.Registration) bool {
		return r.Peer == self && r.Capability == capability
	}) {
		return nil
	}
	d.registrations = append(d.registrations, domain.Registration{
		Peer:         self,
		Capability:   capability,
		Service:      domain.ServiceName(self),
		RegisteredAt: time.Now().UnixNano(),
	})
	return nil
}

func (d *Directory) Lookup(ctx context.Context, capability string) ([]domain.PeerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	return lo.FilterMap(d.registrations, func(r domain.Registration, _ int) (domain.PeerID, bool) {
		return r.Peer, r.Capability == capability
	}), nil
}

// Deregister removes every registration of self, whatever the capability.
func (d *Directory) Deregister(_ context.Context, self domain.PeerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registrations = lo.Reject(d.registrations, func(r domain.Registration, _ int) bool {
		return r.Peer == self
	})
	return nil
}
