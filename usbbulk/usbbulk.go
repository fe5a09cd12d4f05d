/*Package usbbulk implements raw bulk transfers to USB instruments with gousb.

It is the hardware side of oceanoptics.Transport.  There is no framing here;
bytes written are bytes on the wire, and a read returns whatever a single bulk
transfer produced.

To use:
1.  Create a Bus with New.  It owns the libusb context.
2.  FindDevices opens every device with a vendor ID.
3.  Claim a device before reading or writing.  Endpoints are opened lazily
	on first use and cached.
4.  Close each device, then the Bus.
*/
package usbbulk

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/pkg/errors"
)

// Bus is a libusb context that can enumerate devices
type Bus struct {
	ctx *gousb.Context

	// Timeout bounds every read and write.  Zero leaves it to libusb, which waits forever.
	Timeout time.Duration
}

// New creates a new Bus
func New(timeout time.Duration) *Bus {
	return &Bus{ctx: gousb.NewContext(), Timeout: timeout}
}

// FindDevices opens every device with the given vendor ID, in enumeration order
func (b *Bus) FindDevices(vendor uint16) ([]oceanoptics.Handle, error) {
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendor
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, errors.Wrapf(err, "opening devices with vendor 0x%04X", vendor)
	}
	out := make([]oceanoptics.Handle, len(devs))
	for i, d := range devs {
		out[i] = &Device{device: d, timeout: b.Timeout}
	}
	return out, nil
}

// Close releases the libusb context.  Devices must be closed first.
func (b *Bus) Close() error {
	return b.ctx.Close()
}

// Device is a single opened USB device
type Device struct {
	timeout time.Duration
	device  *gousb.Device
	iface   *gousb.Interface
	closer  func()
	in      map[uint8]*gousb.InEndpoint
	out     map[uint8]*gousb.OutEndpoint
}

// ProductID returns the USB product ID
func (d *Device) ProductID() uint16 {
	return uint16(d.device.Desc.Product)
}

// Claim detaches any kernel driver and claims the default interface
// (configuration 1, interface 0, alternate setting 0)
func (d *Device) Claim() error {
	if d.iface != nil {
		return nil
	}
	err := d.device.SetAutoDetach(true)
	if err != nil {
		return errors.Wrap(err, "setting auto detach")
	}
	iface, closer, err := d.device.DefaultInterface()
	if err != nil {
		return errors.Wrap(err, "claiming default interface")
	}
	d.iface, d.closer = iface, closer
	d.in = make(map[uint8]*gousb.InEndpoint)
	d.out = make(map[uint8]*gousb.OutEndpoint)
	return nil
}

func (d *Device) inEndpoint(addr uint8) (*gousb.InEndpoint, error) {
	if d.iface == nil {
		return nil, errors.New("device not claimed")
	}
	if ep, ok := d.in[addr]; ok {
		return ep, nil
	}
	ep, err := d.iface.InEndpoint(int(addr & 0x0F))
	if err != nil {
		return nil, errors.Wrapf(err, "opening IN endpoint 0x%02X", addr)
	}
	d.in[addr] = ep
	return ep, nil
}

func (d *Device) outEndpoint(addr uint8) (*gousb.OutEndpoint, error) {
	if d.iface == nil {
		return nil, errors.New("device not claimed")
	}
	if ep, ok := d.out[addr]; ok {
		return ep, nil
	}
	ep, err := d.iface.OutEndpoint(int(addr & 0x0F))
	if err != nil {
		return nil, errors.Wrapf(err, "opening OUT endpoint 0x%02X", addr)
	}
	d.out[addr] = ep
	return ep, nil
}

func (d *Device) deadline() (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), d.timeout)
}

// Write performs one bulk OUT transfer
func (d *Device) Write(endpoint uint8, b []byte) (int, error) {
	ep, err := d.outEndpoint(endpoint)
	if err != nil {
		return 0, err
	}
	ctx, cancel := d.deadline()
	defer cancel()
	n, err := ep.WriteContext(ctx, b)
	if err != nil {
		return n, errors.Wrapf(err, "bulk write to 0x%02X", endpoint)
	}
	return n, nil
}

// Read performs one bulk IN transfer into buf
func (d *Device) Read(endpoint uint8, buf []byte) (int, error) {
	ep, err := d.inEndpoint(endpoint)
	if err != nil {
		return 0, err
	}
	ctx, cancel := d.deadline()
	defer cancel()
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return n, errors.Wrapf(err, "bulk read from 0x%02X", endpoint)
	}
	return n, nil
}

// Close releases the interface and closes the device
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
		d.closer = nil
		d.iface = nil
	}
	return d.device.Close()
}

var (
	_ oceanoptics.Transport = (*Bus)(nil)
	_ oceanoptics.Handle    = (*Device)(nil)
)
