//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"peer-chat/domain"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Directory is the service registry: publish and lookup by capability.
type Directory interface {
	Register(ctx context.Context, self domain.PeerID, capability string) error
	Lookup(ctx context.Context, capability string) ([]domain.PeerID, error)
	Deregister(ctx context.Context, self domain.PeerID) error
}

// Transport is a best-effort point-to-point channel, no delivery acknowledgment.
// Receive blocks at most wait and reports false when nothing arrived.
type Transport interface {
	Send(ctx context.Context, out domain.Outbound) error
	Receive(ctx context.Context, wait time.Duration) (domain.Inbound, bool, error)
}

// Observer is notified from the discovery, inbox and dispatch goroutines.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnRosterChanged(names []string)
	OnMessage(sender, content, timestamp string)
	OnError(message string)
}

type TranscriptSink interface {
	Append(ctx context.Context, evt domain.MessageEvent) error
}

// IRoster is the read/replace contract of the peer roster.
type IRoster interface {
	Replace(peers []domain.PeerID) []domain.PeerID
	Snapshot() []domain.PeerID
	Resolve(displayName string) (domain.PeerID, bool)
}
