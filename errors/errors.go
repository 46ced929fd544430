package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrUnknownRecipient = fmt.Errorf("unknown recipient")
	ErrTransportFailure = fmt.Errorf("transport failure")
	ErrRegistration     = fmt.Errorf("registration failed")
	ErrLookup           = fmt.Errorf("lookup failed")
	ErrUnknownPeer      = fmt.Errorf("unknown peer")
	ErrMailboxFull      = fmt.Errorf("mailbox full")
	ErrTransportClosed  = fmt.Errorf("transport closed")
)

// UnknownRecipientError is returned when a display name matches no roster entry.
type UnknownRecipientError struct {
	Name string
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("agent %s is not available", e.Name)
}

func (e *UnknownRecipientError) Is(target error) bool {
	return target == ErrUnknownRecipient
}

// TransportFailureError wraps a transport send failure for a resolved peer.
type TransportFailureError struct {
	Peer  string
	Cause error
}

func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("sending to %s failed: %v", e.Peer, e.Cause)
}

func (e *TransportFailureError) Unwrap() error {
	return e.Cause
}

func (e *TransportFailureError) Is(target error) bool {
	return target == ErrTransportFailure
}
