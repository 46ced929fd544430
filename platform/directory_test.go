package platform

import (
	"context"
	"peer-chat/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectory_RegisterLookupDeregister(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	directory := NewDirectory()
	alice := domain.NewPeerID("alice", "peer-chat")
	bob := domain.NewPeerID("bob", "peer-chat")
	carol := domain.NewPeerID("carol", "peer-chat")

	// Given three agents, one of them offering another service
	req.NoError(directory.Register(ctx, bob, domain.CapabilityChatService))
	req.NoError(directory.Register(ctx, alice, domain.CapabilityChatService))
	req.NoError(directory.Register(ctx, carol, "file-service"))

	// Then lookup returns the chat agents in registration order
	peers, err := directory.Lookup(ctx, domain.CapabilityChatService)
	req.NoError(err)
	req.Equal([]domain.PeerID{bob, alice}, peers)

	// When bob leaves
	req.NoError(directory.Deregister(ctx, bob))

	peers, err = directory.Lookup(ctx, domain.CapabilityChatService)
	req.NoError(err)
	req.Equal([]domain.PeerID{alice}, peers)
}

func TestDirectory_Register_IsIdempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	directory := NewDirectory()
	alice := domain.NewPeerID("alice", "peer-chat")
	bob := domain.NewPeerID("bob", "peer-chat")

	req.NoError(directory.Register(ctx, alice, domain.CapabilityChatService))
	req.NoError(directory.Register(ctx, bob, domain.CapabilityChatService))
	req.NoError(directory.Register(ctx, alice, domain.CapabilityChatService))

	peers, err := directory.Lookup(ctx, domain.CapabilityChatService)
	req.NoError(err)
	req.Equal([]domain.PeerID{alice, bob}, peers)
}

func TestDirectory_Lookup_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDirectory().Lookup(ctx, domain.CapabilityChatService)
	require.ErrorIs(t, err, context.Canceled)
}
