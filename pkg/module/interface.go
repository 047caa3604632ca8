package module

import "github.com/itohio/gowrm/pkg/protocol"

// Device defines the interface for water research modules (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Readings() <-chan Reading
	SendCommand(kind protocol.Kind, cmd protocol.Command, arg uint16) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// Ensure Link implements Device.
var _ Device = (*Link)(nil)
