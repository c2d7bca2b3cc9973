package gip

import (
	"sync"
)

// This file implements the per-client data model (spec.md §3's "Client"
// and "Chunk buffer") and the bus that owns the sixteen client slots of
// an Adapter (spec.md §4.3).

// maxClients is the number of logical clients an adapter multiplexes
// (spec.md §3: "id in 0..15").
const maxClients = 16

// maxSimplePayload is the largest payload sent without chunking
// (spec.md §4.2: "payload > max-simple (58 bytes)").
const maxSimplePayload = 58

// Identity holds a client's hardware identity as reported by Announce
// (spec.md §3: "hardware identity").
type Identity struct {
	Vendor  uint16
	Product uint16
	FwVer   uint32
	HwVer   uint32
	MAC     [6]byte
}

// IdentifyTables holds the parsed sub-tables of an Identify payload
// (spec.md §3: "parsed identify tables (all nullable)", §4.4's "Identify
// parser"). A nil slice/field means the corresponding offset was zero
// ("not present").
type IdentifyTables struct {
	ExternalCommands []ExternalCommand
	FirmwareVersions []FirmwareVersion
	AudioFormats     []AudioFormatPair
	CapabilitiesOut  []byte
	CapabilitiesIn   []byte
	Classes          []string
	Interfaces       [][16]byte
	HIDDescriptor    []byte
}

// ExternalCommand is one entry of the external-commands table (item
// length 24 per spec.md §4.4).
type ExternalCommand struct {
	Command byte
	Raw     [23]byte
}

// FirmwareVersion is one entry of the firmware-versions table (item
// length 4 per spec.md §4.4).
type FirmwareVersion struct {
	Major, Minor uint16
}

// AudioFormatPair is one entry of the audio-formats table (item length 2
// per spec.md §4.4): an input format code and an output format code.
type AudioFormatPair struct {
	In, Out byte
}

// AudioConfig is a negotiated audio direction's configuration (spec.md
// §3, §4.7's "Configuration derivation").
type AudioConfig struct {
	Format       byte
	Channels     int
	SampleRate   int
	BufferSize   int
	FragmentSize int
	PacketSize   int
	Valid        bool
}

// ChunkBuffer is the one-slot chunk-reassembly buffer (spec.md §3:
// "Chunk buffer"). Created on CHUNK_START, mutated by subsequent chunk
// packets, destroyed after dispatch.
type ChunkBuffer struct {
	Length uint16
	Full   bool
	Bytes  []byte
}

// Driver is the interface a device driver implements to be matched
// against a client's class list (spec.md §4.3's "Driver matching") and
// to receive forwarded messages (spec.md §4.4).
type Driver interface {
	// ClassName returns the declared class string this driver matches
	// against a client's parsed Classes.
	ClassName() string

	// Probe is called once, under the client's driver semaphore, when
	// this driver is matched to a newly Identified client.
	Probe(c *Client) error

	// Remove is called under the client's driver semaphore when the
	// client is being torn down.
	Remove(c *Client)
}

// Client is one of an Adapter's sixteen logical GIP peers (spec.md §3).
//
// Fields mutated by the hot dispatch path are guarded by mu, modeled on
// the Session pattern of reading/writing state under a short-held lock
// rather than a collection of atomics: the inbound dispatch path reads
// state and the driver pointer together, and those two must never be
// observed out of sync (spec.md §4.3's "Concurrency").
type Client struct {
	// Adapter is the parent adapter; ID is this client's slot, 0..15.
	Adapter *Adapter
	ID      uint8

	mu       sync.Mutex
	state    State
	identity Identity
	chunk    *ChunkBuffer
	tables   *IdentifyTables
	audioIn  AudioConfig
	audioOut AudioConfig
	auth     *AuthContext

	// pendingAudioIn/pendingAudioOut hold the format codes most recently
	// suggested to the device (negotiateAudio), awaiting its volume
	// acceptance (spec.md §4.7's "Two-sided acceptance").
	pendingAudioIn, pendingAudioOut byte
	pendingAudioSet                 bool

	// driverSem serialises Probe/Remove against in-flight dispatch calls
	// into the driver (spec.md §4.3: "calls into driver ops use a
	// semaphore that probe/remove hold exclusively, so an in-flight
	// callback blocks removal until it returns").
	driverSem sync.Mutex
	driver    Driver

	// encryptionEnabled is set once the session key has been installed
	// on the transport (dongle clients only, spec.md §3).
	encryptionEnabled bool
}

// newClient constructs a Client in its initial state (spec.md §4.2 step
// 1: "create on demand, initial state = Connected").
func newClient(a *Adapter, id uint8) *Client {
	return &Client{
		Adapter: a,
		ID:      id,
		state:   StateConnected,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns a copy of the client's hardware identity.
func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Tables returns the client's parsed Identify tables, or nil if Identify
// has not yet been processed.
func (c *Client) Tables() *IdentifyTables {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables
}

// applyEvent runs the lifecycle FSM under the client lock and returns
// the result. Callers execute the returned Actions after releasing any
// lock they hold, matching the Session pattern of returning actions for
// the caller to run rather than running them while locked.
func (c *Client) applyEvent(event Event) FSMResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := ApplyEvent(c.state, event)
	c.state = r.NewState
	return r
}

// boundDriver returns the client's currently bound driver, if any.
func (c *Client) boundDriver() Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driver
}

// withDriverLocked runs fn under the driver semaphore. Used by both
// dispatch (read-only driver calls) and Bus registration/removal
// (Probe/Remove), so that an in-flight dispatch call blocks removal
// until it returns (spec.md §4.3's "Concurrency").
func (c *Client) withDriverLocked(fn func(d Driver)) {
	c.driverSem.Lock()
	defer c.driverSem.Unlock()
	d := c.boundDriver()
	if d == nil {
		return
	}
	fn(d)
}

// Bus owns an Adapter's sixteen client slots and matches newly
// Identified clients against registered drivers by class string
// (spec.md §4.3's "Driver matching").
type Bus struct {
	mu      sync.Mutex
	clients [maxClients]*Client
	drivers []Driver
}

// NewBus constructs an empty client bus.
func NewBus() *Bus {
	return &Bus{}
}

// RegisterDriver adds d to the set of drivers considered for class
// matching on future Identify completions. It does not retroactively
// match already-Identified clients.
func (b *Bus) RegisterDriver(d Driver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drivers = append(b.drivers, d)
}

// ClientAt returns the client in slot id, creating it (state Connected)
// if it does not yet exist (spec.md §4.2 step 1).
func (b *Bus) ClientAt(a *Adapter, id uint8) (*Client, error) {
	if id >= maxClients {
		return nil, ErrClientNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clients[id] == nil {
		b.clients[id] = newClient(a, id)
	}
	return b.clients[id], nil
}

// Clients returns the currently occupied client slots, in slot order.
// Used by the control API to enumerate connected clients (spec.md §6).
func (b *Bus) Clients() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Client, 0, maxClients)
	for _, c := range b.clients {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the client in slot id without creating it.
func (b *Bus) Lookup(id uint8) (*Client, error) {
	if id >= maxClients {
		return nil, ErrClientNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.clients[id]
	if c == nil {
		return nil, ErrClientNotFound
	}
	return c, nil
}

// Remove tears down the client in slot id: runs Driver.Remove under the
// driver semaphore (blocking until any in-flight dispatch call returns),
// then clears the slot (spec.md §4.6's "Destroy the adapter child (which
// flushes driver queues and unregisters the client)").
func (b *Bus) Remove(id uint8) {
	b.mu.Lock()
	c := b.clients[id]
	if c != nil {
		b.clients[id] = nil
	}
	b.mu.Unlock()

	if c == nil {
		return
	}

	c.withDriverLocked(func(d Driver) {
		d.Remove(c)
	})
}

// matchDriver compares each registered driver's class string against
// the client's parsed Classes; on first match it runs Probe under the
// driver semaphore (spec.md §4.3's "Registration compares each driver's
// declared class string against the client's parsed class list; on
// first match the driver's probe runs under the client's driver lock").
// Unmatched clients remain on the bus without a driver.
func (b *Bus) matchDriver(c *Client) error {
	b.mu.Lock()
	drivers := make([]Driver, len(b.drivers))
	copy(drivers, b.drivers)
	b.mu.Unlock()

	c.mu.Lock()
	tables := c.tables
	c.mu.Unlock()
	if tables == nil {
		return nil
	}

	for _, d := range drivers {
		for _, class := range tables.Classes {
			if class != d.ClassName() {
				continue
			}

			var probeErr error
			c.driverSem.Lock()
			c.mu.Lock()
			c.driver = d
			c.mu.Unlock()
			probeErr = d.Probe(c)
			c.driverSem.Unlock()

			return probeErr
		}
	}

	return nil
}
