package runtime

import (
	"peer-chat/contract"
	"peer-chat/domain"
	"sync"

	"github.com/samber/lo"
)

var _ contract.IRoster = (*Roster)(nil)

// Roster is the believed-reachable peer set of one participant.
// Only the discovery cycle replaces it; readers always get a copy so a
// partially replaced list is never observable.
type Roster struct {
	mu    sync.RWMutex
	self  domain.PeerID
	peers []domain.PeerID
}

func NewRoster(self domain.PeerID) *Roster {
	return &Roster{self: self}
}

// Replace swaps the whole roster for peers minus self, keeping registry order
// and dropping duplicated identifiers. It returns the new content.
func (r *Roster) Replace(peers []domain.PeerID) []domain.PeerID {
	next := lo.Uniq(lo.Filter(peers, func(p domain.PeerID, _ int) bool {
		return p != r.self
	}))

	r.mu.Lock()
	r.peers = next
	r.mu.Unlock()

	return append([]domain.PeerID(nil), next...)
}

func (r *Roster) Snapshot() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.PeerID(nil), r.peers...)
}

// Resolve returns the first peer, in roster order, whose display name equals
// displayName. Duplicate display names are not disambiguated.
func (r *Roster) Resolve(displayName string) (domain.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Find(r.peers, func(p domain.PeerID) bool {
		return p.DisplayName() == displayName
	})
}
