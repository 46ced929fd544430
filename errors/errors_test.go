package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnknownRecipientError(t *testing.T) {
	req := require.New(t)
	var err error = &UnknownRecipientError{Name: "bob"}

	req.ErrorIs(err, ErrUnknownRecipient)
	req.NotErrorIs(err, ErrTransportFailure)
	req.Equal("agent bob is not available", err.Error())

	var target *UnknownRecipientError
	req.True(stderrors.As(fmt.Errorf("send: %w", err), &target))
	req.Equal("bob", target.Name)
}

func TestTransportFailureError(t *testing.T) {
	req := require.New(t)
	var err error = &TransportFailureError{Peer: "bob@peer-chat", Cause: ErrMailboxFull}

	req.ErrorIs(err, ErrTransportFailure)
	req.ErrorIs(err, ErrMailboxFull)
	req.Contains(err.Error(), "bob@peer-chat")
}
