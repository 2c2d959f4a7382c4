package protocol

import (
	"errors"
)

// PollTimeMs bounds a single poller wait so an idle loop still makes progress.
const PollTimeMs = 10000

// DefaultFunction is a deferred callback posted to an event loop.
type DefaultFunction func()

// EventType is the readiness mask a poller backend reports for one fd.
type EventType uint32

const (
	EventNone  EventType = 0
	EventRead  EventType = 0x1
	EventWrite EventType = 0x2
	EventErr   EventType = 0x80
	EventClose EventType = 0x100
)

// EmbedHandler2Multiplex receives one ready fd with its translated mask.
type EmbedHandler2Multiplex func(fd int, eventType EventType)

// NetWorkAndAddressAndOption carries the listen target.
// The network must be "tcp", "tcp4" or "tcp6".
type NetWorkAndAddressAndOption struct {
	Network, Address string
	ReusePort        bool
}

var (
	// ErrClosed is returned when stopping a poller or loop that is not running.
	ErrClosed = errors.New("poller instance is not running")

	// ErrConnectionClosed is returned when sending on a disconnected connection.
	ErrConnectionClosed = errors.New("connection closed")
)
