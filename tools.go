//go:build tools
// +build tools

// Package tools pins the code generators run by `go generate` (mockgen for
// the mocks/ package) so they resolve from go.mod on a fresh checkout.
package peer_chat

import (
	_ "go.uber.org/mock/mockgen"
)
