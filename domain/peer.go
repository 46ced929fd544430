// Package domain contains core concepts of the chat system.
// This file defines peer identities and the capability they advertise.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

// CapabilityChatService is the tag every participant registers under and looks up.
const CapabilityChatService = "chat-service"

// PeerID identifies a participant on the platform, formatted as "local@platform".
type PeerID string

func NewPeerID(local, platform string) PeerID {
	if platform == "" {
		return PeerID(local)
	}
	return PeerID(local + "@" + platform)
}

// DisplayName is the local part of the identifier.
// Two peers living on different platforms may share it.
func (p PeerID) DisplayName() string {
	name, _, _ := strings.Cut(string(p), "@")
	return name
}

func (p PeerID) String() string {
	return string(p)
}

// DisplayNames maps peers to their display names, order preserved.
func DisplayNames(peers []PeerID) []string {
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		names = append(names, p.DisplayName())
	}
	return names
}

// ServiceName is the human-readable service label published with a registration.
func ServiceName(p PeerID) string {
	return "ChatService-" + p.DisplayName()
}

// Registration is a directory entry: who offers which capability.
type Registration struct {
	Peer         PeerID `json:"peer"`
	Capability   string `json:"capability"`
	Service      string `json:"service"`
	RegisteredAt int64  `json:"registered_at"`
}
