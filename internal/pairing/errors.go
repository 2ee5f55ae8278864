package pairing

import (
	"errors"

	"github.com/nextlevelbuilder/walink/internal/session"
)

// Errors delivered through a Completion. Wrapped errors keep the cause in
// the message and match these with errors.Is.
var (
	ErrInvalidIdentity  = session.ErrInvalidIdentity
	ErrSessionActive    = errors.New("pairing: session already active for identity")
	ErrTransportOpen    = errors.New("pairing: transport open failed")
	ErrPairingCode      = errors.New("pairing: pairing code request failed")
	ErrLoggedOut        = errors.New("pairing: session logged out")
	ErrRetriesExhausted = errors.New("pairing: reconnect attempts exhausted")
	ErrPairingExpired   = errors.New("pairing: connection lost before the code was used")
	ErrShutdown         = errors.New("pairing: manager shut down")
)
