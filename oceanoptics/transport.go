package oceanoptics

import (
	"errors"
	"io"
)

var (
	// ErrDeviceNotFound is generated when no device on the bus carries the Ocean Optics vendor ID
	ErrDeviceNotFound = errors.New("no Ocean Optics spectrometers found")

	// ErrTransport is wrapped around any USB read or write failure
	ErrTransport = errors.New("usb transport error")

	// ErrInvalidPacket is generated when a spectrum packet fails length or end marker validation
	ErrInvalidPacket = errors.New("invalid spectrum packet")

	// ErrBadPacketSize is generated when a model's packet size cannot hold a whole number of pixels
	ErrBadPacketSize = errors.New("packet size is not 2n+1")

	// ErrNotBound is generated when I/O is attempted on an unbound or released profile
	ErrNotBound = errors.New("spectrometer is not bound")
)

// Handle is one opened USB device.  Endpoints are addressed with their full
// address byte, direction bit included (e.g. 0x82 for EP2 IN).
type Handle interface {
	io.Closer

	// ProductID returns the USB product ID of the device
	ProductID() uint16

	// Claim takes exclusive ownership of the device's configuration and interface
	Claim() error

	// Write writes b to an OUT endpoint
	Write(endpoint uint8, b []byte) (int, error)

	// Read does one blocking read from an IN endpoint into buf
	Read(endpoint uint8, buf []byte) (int, error)
}

// Transport can enumerate the bus
type Transport interface {
	// FindDevices opens every device with the given vendor ID, in enumeration order
	FindDevices(vendor uint16) ([]Handle, error)
}
