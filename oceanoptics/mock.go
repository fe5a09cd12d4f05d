package oceanoptics

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sync"
)

// errMockTimeout mimics libusb's timeout when nothing was requested
var errMockTimeout = errors.New("mock: read timed out, nothing pending")

// MockTransport is an in-memory bus for use without hardware
type MockTransport struct {
	// Handles are returned by FindDevices in order, filtered by vendor
	Handles []*MockHandle

	// Err, if not nil, is returned by FindDevices
	Err error
}

// FindDevices returns the mock handles that carry the vendor ID
func (t *MockTransport) FindDevices(vendor uint16) ([]Handle, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	var out []Handle
	for _, h := range t.Handles {
		if h.Vendor == vendor {
			out = append(out, h)
		}
	}
	return out, nil
}

// MockHandle simulates a spectrometer speaking the USB2000+/NIRQuest command set
type MockHandle struct {
	sync.Mutex

	Vendor uint16
	PID    uint16

	// Model sets the packet size and endpoints the mock answers on
	Model ModelProfile

	// Pixels produces the spectrum for the nth request (0-based).  If nil, a
	// lamp-like gaussian scaled by integration time is produced.
	Pixels func(n int) []uint16

	// ReadErr, if not nil, is called before the nth spectrum is returned and
	// a non-nil error fails that read
	ReadErr func(n int) error

	// Corrupt, if not nil, may rewrite the nth spectrum packet before it is read
	Corrupt func(n int, pkt []byte) []byte

	// ClaimFailures is the number of Claim calls that fail before one succeeds
	ClaimFailures int

	pending  map[uint8][][]byte
	requests int
	tintUS   uint32
	claimed  bool
	closed   bool
}

// NewMockSpectrometer returns a mock that matches model
func NewMockSpectrometer(model ModelProfile) *MockHandle {
	return &MockHandle{
		Vendor: VendorID,
		PID:    model.ProductIDs[0],
		Model:  model,
		tintUS: 10000,
	}
}

// ProductID returns the mock's product ID
func (m *MockHandle) ProductID() uint16 {
	return m.PID
}

// Claim marks the mock claimed, after ClaimFailures failed attempts
func (m *MockHandle) Claim() error {
	m.Lock()
	defer m.Unlock()
	if m.ClaimFailures > 0 {
		m.ClaimFailures--
		return errors.New("mock: resource busy")
	}
	m.claimed = true
	return nil
}

// Claimed returns true if Claim has succeeded
func (m *MockHandle) Claimed() bool {
	m.Lock()
	defer m.Unlock()
	return m.claimed
}

// Closed returns true if Close was called
func (m *MockHandle) Closed() bool {
	m.Lock()
	defer m.Unlock()
	return m.closed
}

// Requests returns the number of spectra requested so far
func (m *MockHandle) Requests() int {
	m.Lock()
	defer m.Unlock()
	return m.requests
}

// IntegrationTimeUS returns the integration time last commanded, in microseconds
func (m *MockHandle) IntegrationTimeUS() uint32 {
	m.Lock()
	defer m.Unlock()
	return m.tintUS
}

// Close closes the mock
func (m *MockHandle) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}

func (m *MockHandle) queue(ep uint8, b []byte) {
	if m.pending == nil {
		m.pending = make(map[uint8][][]byte)
	}
	m.pending[ep] = append(m.pending[ep], b)
}

// Write interprets a command
func (m *MockHandle) Write(endpoint uint8, b []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return 0, errors.New("mock: device closed")
	}
	if endpoint != m.Model.CommandOut {
		return 0, errors.New("mock: write to non-command endpoint")
	}
	switch b[0] {
	case CmdInitialize:
		m.pending = nil
	case CmdSetIntegrationTime:
		if len(b) != 5 {
			return 0, errors.New("mock: integration time needs 4 bytes")
		}
		m.tintUS = binary.LittleEndian.Uint32(b[1:])
	case CmdQueryInfo:
		slot := byte(0)
		if len(b) > 1 {
			slot = b[1]
		}
		resp := append([]byte{CmdQueryInfo, slot}, []byte("MOCK0001")...)
		m.queue(m.Model.DataIn, append(resp, 0))
	case CmdRequestSpectra:
		n := m.requests
		m.requests++
		pkt := m.packet(n)
		if m.ReadErr != nil {
			if err := m.ReadErr(n); err != nil {
				m.queue(m.Model.SpectraIn, nil) // nil marks a failed read
				return len(b), nil
			}
		}
		if m.Corrupt != nil {
			pkt = m.Corrupt(n, pkt)
		}
		m.queue(m.Model.SpectraIn, pkt)
	}
	return len(b), nil
}

// Read returns the oldest pending response on the endpoint
func (m *MockHandle) Read(endpoint uint8, buf []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return 0, errors.New("mock: device closed")
	}
	q := m.pending[endpoint]
	if len(q) == 0 {
		return 0, errMockTimeout
	}
	resp := q[0]
	m.pending[endpoint] = q[1:]
	if resp == nil {
		return 0, errors.New("mock: LIBUSB_ERROR_PIPE")
	}
	return copy(buf, resp), nil
}

func (m *MockHandle) packet(n int) []byte {
	var px []uint16
	if m.Pixels != nil {
		px = m.Pixels(n)
	} else {
		px = m.lamp()
	}
	pkt := make([]byte, 2*len(px)+1)
	for i, v := range px {
		binary.LittleEndian.PutUint16(pkt[2*i:], v)
	}
	pkt[len(pkt)-1] = EndMarker
	return pkt
}

// lamp is a broad blackbody-ish hump with a little shot noise
func (m *MockHandle) lamp() []uint16 {
	npx := m.Model.Pixels()
	out := make([]uint16, npx)
	scale := float64(m.tintUS) / 10000 // 10 ms => 1x
	center := float64(npx) * 0.45
	width := float64(npx) * 0.25
	for i := range out {
		x := (float64(i) - center) / width
		v := 1500 + 30000*scale*math.Exp(-x*x/2) + rand.NormFloat64()*20
		out[i] = uint16(math.Max(0, math.Min(v, math.MaxUint16)))
	}
	return out
}
