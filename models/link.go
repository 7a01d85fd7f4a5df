package models

import (
	"fmt"
	"time"
)

// LinkState is the wireless association lifecycle state.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkFailed:
		return "failed"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// LinkStatus is a read-only snapshot of the link state machine.
type LinkStatus struct {
	State   LinkState
	Since   time.Time // last transition
	Retries int
}

// AssociationStatus is what the connectivity collaborator reports.
type AssociationStatus int

const (
	AssociationAssociating AssociationStatus = iota
	AssociationAssociated
	AssociationFailed
)

func (s AssociationStatus) String() string {
	switch s {
	case AssociationAssociating:
		return "associating"
	case AssociationAssociated:
		return "associated"
	case AssociationFailed:
		return "failed"
	default:
		return fmt.Sprintf("AssociationStatus(%d)", int(s))
	}
}

// Credentials for joining the wireless network.
type Credentials struct {
	SSID     string
	Password string
}
