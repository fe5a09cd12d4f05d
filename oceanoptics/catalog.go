/*Package oceanoptics talks to Ocean Optics USB spectrometers.

The devices speak a small binary protocol over bulk endpoints.  A one byte
command (optionally followed by a few argument bytes) is written to the
command-out endpoint, and the response is read from one of two input
endpoints.  A spectrum request (0x09) is answered on the spectra-in endpoint
with a fixed size packet of little endian uint16 pixel values followed by a
single sync byte, 0x69.

The package is split into:
	1.  a static catalog of models (this file)
	2.  discovery, which binds the first cataloged device on the bus
	3.  a command channel, which does one write or one read and never retries
	4.  a decoder, which validates and unpacks spectrum packets

The USB bus itself is reached through the Transport interface, implemented
for real hardware by package usbbulk and for tests by MockTransport.
*/
package oceanoptics

import "fmt"

const (
	// VendorID is the USB vendor ID of Ocean Optics
	VendorID uint16 = 0x2457

	// EndMarker is the value of the final byte of a valid spectrum packet
	EndMarker = 0x69
)

// endpoint addresses shared by the USB2000+/NIRQuest family
const (
	EP1Out uint8 = 0x01
	EP1In  uint8 = 0x81
	EP2In  uint8 = 0x82
	EP6In  uint8 = 0x86
)

// ModelProfile describes the USB layout of one spectrometer model
type ModelProfile struct {
	// ProductIDs is the set of USB product IDs this profile matches
	ProductIDs []uint16

	// Name is the human readable model name
	Name string

	// PacketSize is the number of bytes in one spectrum response, including the end marker
	PacketSize int

	// CommandOut is the address of the command-output endpoint
	CommandOut uint8

	// DataIn and DataInSize are the data-input endpoint (status, info queries) and its buffer size
	DataIn     uint8
	DataInSize int

	// SpectraIn and SpectraInSize are the spectra-input endpoint and its buffer size
	SpectraIn     uint8
	SpectraInSize int

	// WavelengthStart and WavelengthEnd bound the (linear) wavelength axis, in nm
	WavelengthStart float64
	WavelengthEnd   float64

	// DuplicateFirstPixel copies pixel 0 over pixel 1 after decoding, to hide a
	// noisy first pixel.  No cataloged model needs it; it can be forced on by config.
	DuplicateFirstPixel bool

	// LenientPackets accepts short spectrum responses, validating only the end marker
	LenientPackets bool
}

// Pixels is the number of intensity samples in one spectrum packet
func (m ModelProfile) Pixels() int {
	return (m.PacketSize - 1) / 2
}

// Matches returns true if pid is one of the profile's product IDs
func (m ModelProfile) Matches(pid uint16) bool {
	for _, id := range m.ProductIDs {
		if id == pid {
			return true
		}
	}
	return false
}

// Validate checks that the packet layout is self consistent
func (m ModelProfile) Validate() error {
	if m.PacketSize < 3 {
		return fmt.Errorf("%w: %s packet size %d is too small", ErrBadPacketSize, m.Name, m.PacketSize)
	}
	if (m.PacketSize-1)%2 != 0 {
		return fmt.Errorf("%w: %s payload of %d bytes is not a whole number of uint16s", ErrBadPacketSize, m.Name, m.PacketSize-1)
	}
	if m.WavelengthEnd <= m.WavelengthStart {
		return fmt.Errorf("%s wavelength range %f-%f is empty", m.Name, m.WavelengthStart, m.WavelengthEnd)
	}
	return nil
}

// Catalog is an immutable lookup from product ID to model profile
type Catalog struct {
	models []ModelProfile
}

// NewCatalog validates the models and returns a catalog of them.
// A product ID may only appear in one model.
func NewCatalog(models ...ModelProfile) (Catalog, error) {
	seen := map[uint16]string{}
	out := make([]ModelProfile, 0, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return Catalog{}, err
		}
		for _, id := range m.ProductIDs {
			if other, ok := seen[id]; ok {
				return Catalog{}, fmt.Errorf("product ID 0x%04X claimed by both %s and %s", id, other, m.Name)
			}
			seen[id] = m.Name
		}
		m.ProductIDs = append([]uint16(nil), m.ProductIDs...)
		out = append(out, m)
	}
	return Catalog{models: out}, nil
}

// Lookup finds the model for a product ID
func (c Catalog) Lookup(pid uint16) (ModelProfile, bool) {
	for _, m := range c.models {
		if m.Matches(pid) {
			return m, true
		}
	}
	return ModelProfile{}, false
}

// Models returns a copy of the cataloged models
func (c Catalog) Models() []ModelProfile {
	return append([]ModelProfile(nil), c.models...)
}

// DefaultCatalog holds the models this package knows how to drive
var DefaultCatalog = mustCatalog(
	ModelProfile{
		ProductIDs: []uint16{0x1026},
		Name:       "NIRQuest512",
		PacketSize: 1025,
		CommandOut: EP1Out, DataIn: EP1In, DataInSize: 512,
		SpectraIn: EP2In, SpectraInSize: 512,
		WavelengthStart: 900, WavelengthEnd: 1700,
	},
	ModelProfile{
		ProductIDs: []uint16{0x1028},
		Name:       "NIRQuest256",
		PacketSize: 513,
		CommandOut: EP1Out, DataIn: EP1In, DataInSize: 512,
		SpectraIn: EP2In, SpectraInSize: 512,
		WavelengthStart: 900, WavelengthEnd: 2500,
	},
	ModelProfile{
		ProductIDs: []uint16{0x101E},
		Name:       "USB2000+",
		PacketSize: 4097,
		CommandOut: EP1Out, DataIn: EP1In, DataInSize: 512,
		SpectraIn: EP2In, SpectraInSize: 512,
		WavelengthStart: 200, WavelengthEnd: 1100,
	},
	ModelProfile{
		ProductIDs: []uint16{0x1022},
		Name:       "USB4000",
		PacketSize: 7681,
		CommandOut: EP1Out, DataIn: EP1In, DataInSize: 512,
		SpectraIn: EP6In, SpectraInSize: 512,
		WavelengthStart: 200, WavelengthEnd: 1100,
	},
)

func mustCatalog(models ...ModelProfile) Catalog {
	c, err := NewCatalog(models...)
	if err != nil {
		panic(err)
	}
	return c
}
