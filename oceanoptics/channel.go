package oceanoptics

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// command bytes of the USB2000+/NIRQuest command set
const (
	CmdInitialize         byte = 0x01
	CmdSetIntegrationTime byte = 0x02
	CmdQueryInfo          byte = 0x05
	CmdRequestSpectra     byte = 0x09
	CmdQueryStatus        byte = 0xFE
)

// Send writes one short command packet to the profile's command-out endpoint.
// It never retries.
func Send(b *Bound, cmd ...byte) error {
	if b == nil || b.released || b.handle == nil {
		return ErrNotBound
	}
	if len(cmd) == 0 {
		return fmt.Errorf("%w: empty command", ErrTransport)
	}
	n, err := b.handle.Write(b.model.CommandOut, cmd)
	if err != nil {
		return fmt.Errorf("%w: writing command 0x%02X: %v", ErrTransport, cmd[0], err)
	}
	if n != len(cmd) {
		return fmt.Errorf("%w: wrote %d of %d bytes of command 0x%02X", ErrTransport, n, len(cmd), cmd[0])
	}
	return nil
}

// Read does one blocking read of up to size bytes from an input endpoint.
// It never retries; timeouts are the device's.
func Read(b *Bound, endpoint uint8, size int) ([]byte, error) {
	if b == nil || b.released || b.handle == nil {
		return nil, ErrNotBound
	}
	buf := make([]byte, size)
	n, err := b.handle.Read(endpoint, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: reading endpoint 0x%02X: %v", ErrTransport, endpoint, err)
	}
	return buf[:n], nil
}

// Device is a bound spectrometer with the command set layered on top of the channel.
// It is not concurrent safe; one exchange must finish before the next begins.
type Device struct {
	// Profile is the bound USB device
	Profile *Bound

	// FirstPixelFix copies pixel 0 over pixel 1 after decoding, in addition
	// to models that set DuplicateFirstPixel
	FirstPixelFix bool

	tint time.Duration
}

// NewDevice wraps a bound profile
func NewDevice(b *Bound) *Device {
	return &Device{Profile: b}
}

// Model returns the model profile of the device
func (d *Device) Model() ModelProfile {
	return d.Profile.Model()
}

// WavelengthRange returns the start and end of the model's wavelength axis
func (d *Device) WavelengthRange() (float64, float64) {
	m := d.Profile.Model()
	return m.WavelengthStart, m.WavelengthEnd
}

// Initialize resets the spectrometer to its power-on state
func (d *Device) Initialize() error {
	return Send(d.Profile, CmdInitialize)
}

// SetIntegrationTime sets the integration time.  The device takes microseconds as a uint32.
func (d *Device) SetIntegrationTime(t time.Duration) error {
	us := t.Microseconds()
	if us < 1 || us > math.MaxUint32 {
		return fmt.Errorf("integration time %v outside of [1us, %dus]", t, uint32(math.MaxUint32))
	}
	buf := [5]byte{CmdSetIntegrationTime}
	binary.LittleEndian.PutUint32(buf[1:], uint32(us))
	err := Send(d.Profile, buf[:]...)
	if err != nil {
		return err
	}
	d.tint = t
	return nil
}

// GetIntegrationTime returns the last integration time set through this Device, zero if never set
func (d *Device) GetIntegrationTime() (time.Duration, error) {
	return d.tint, nil
}

// QueryInfo reads one of the device's information slots (0 is the serial number)
// and returns it as a string.  The response echoes the command and slot.
func (d *Device) QueryInfo(slot byte) (string, error) {
	err := Send(d.Profile, CmdQueryInfo, slot)
	if err != nil {
		return "", err
	}
	m := d.Profile.Model()
	resp, err := Read(d.Profile, m.DataIn, m.DataInSize)
	if err != nil {
		return "", err
	}
	if len(resp) < 2 || resp[0] != CmdQueryInfo || resp[1] != slot {
		return "", fmt.Errorf("%w: info response did not echo command 0x05 slot %d", ErrInvalidPacket, slot)
	}
	resp = resp[2:]
	if i := bytes.IndexByte(resp, 0); i >= 0 {
		resp = resp[:i]
	}
	return string(resp), nil
}

// Scan requests one spectrum, reads the full packet, and decodes it
func (d *Device) Scan() ([]uint16, error) {
	m := d.Profile.Model()
	err := Send(d.Profile, CmdRequestSpectra)
	if err != nil {
		return nil, err
	}
	raw, err := Read(d.Profile, m.SpectraIn, m.PacketSize)
	if err != nil {
		return nil, err
	}
	var px []uint16
	if m.LenientPackets {
		px, err = DecodeLenient(raw)
	} else {
		px, err = Decode(raw, m.PacketSize)
	}
	if err != nil {
		return nil, err
	}
	if (m.DuplicateFirstPixel || d.FirstPixelFix) && len(px) > 1 {
		px[1] = px[0]
	}
	return px, nil
}
