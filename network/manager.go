// Package network implements the control-function registry and frame
// dispatcher that ties the address-claim state machine (claim), the
// transport-protocol session engine (transport) and application protocol
// packages together into one running J1939/ISOBUS stack per CAN port
// (spec.md §3-§5).
package network

import (
	"github.com/isoagnet/go-j1939/claim"
	"github.com/isoagnet/go-j1939/j1939"
	"github.com/isoagnet/go-j1939/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// Endpoint is the driver-provided link to a physical or virtual CAN bus.
// can/socketcan implements this against a real SocketCAN interface;
// internal/j1939test.FakeEndpoint implements it for tests.
type Endpoint interface {
	SendFrame(j1939.Frame) error
	SetReceiveCallback(func(j1939.Frame))
}

// ExternalCFTimeoutMs is the default silence interval after which an
// ExternalControlFunction with no partner/internal role is pruned from the
// registry (spec.md §3).
const ExternalCFTimeoutMs = 20000

// Config tunes one Manager instance.
type Config struct {
	Port                uint8
	ExternalCFTimeoutMs int64
	Transport           transport.Config
}

// busLoadWindowMs is the rolling window over which bus load is averaged.
const busLoadWindowMs = 100

// approxFrameBits estimates the on-wire bit cost of a classic CAN 2.0B
// frame with dlc data bytes, including worst-case bit stuffing, for the
// bus-load gauge (spec.md §7).
func approxFrameBits(dlc int) float64 {
	return 47 + 8*float64(dlc) + 0.2*(47+8*float64(dlc))
}

// Manager owns every control function and transport session for one CAN
// port. It is driven entirely by Tick(elapsed_ms) plus callbacks from
// Endpoint/application code; it never blocks.
type Manager struct {
	cfg Config
	ep  Endpoint

	nextHandle j1939.CFHandle

	internal map[j1939.CFHandle]*j1939.InternalControlFunction
	partner  map[j1939.CFHandle]*j1939.PartnerControlFunction
	external map[j1939.CFHandle]*j1939.ExternalControlFunction

	claimers map[j1939.CFHandle]*claim.Claimer

	transport *transport.Engine

	onMessage     map[j1939.PGN][]func(j1939.Message)
	onAnyMessage  j1939.Event[j1939.Message]
	onPartnerFind j1939.Event[*j1939.PartnerControlFunction]

	elapsedInWindowMs int64
	bitsInWindowMs    float64
	busLoadFraction   float64

	clockMs int64

	framesSent    prometheus.Counter
	framesRecv    prometheus.Counter
	busLoadGauge  prometheus.Gauge
	sessionsGauge prometheus.Gauge
}

// NewManager constructs a Manager bound to ep. Creates its own prometheus
// metrics under the "j1939" namespace (spec.md's ambient observability
// stack); it does not register them, but the Manager exposes them as a
// prometheus.Collector through Describe and Collect.
func NewManager(cfg Config, ep Endpoint) *Manager {
	if cfg.ExternalCFTimeoutMs <= 0 {
		cfg.ExternalCFTimeoutMs = ExternalCFTimeoutMs
	}
	m := &Manager{
		cfg:      cfg,
		ep:       ep,
		internal: make(map[j1939.CFHandle]*j1939.InternalControlFunction),
		partner:  make(map[j1939.CFHandle]*j1939.PartnerControlFunction),
		external: make(map[j1939.CFHandle]*j1939.ExternalControlFunction),
		claimers: make(map[j1939.CFHandle]*claim.Claimer),
		onMessage: make(map[j1939.PGN][]func(j1939.Message)),

		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "j1939", Subsystem: "network", Name: "frames_sent_total",
			Help: "CAN frames sent by this manager.",
		}),
		framesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "j1939", Subsystem: "network", Name: "frames_received_total",
			Help: "CAN frames received by this manager.",
		}),
		busLoadGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "j1939", Subsystem: "network", Name: "bus_load_fraction",
			Help: "Fraction of bus capacity used over the trailing 100ms window.",
		}),
		sessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "j1939", Subsystem: "network", Name: "transport_sessions_active",
			Help: "Active TP/ETP sessions.",
		}),
	}
	m.transport = transport.NewEngine(cfg.Transport, m.sendRaw)
	m.transport.OnComplete.Subscribe(m.handleReassembledMessage)
	ep.SetReceiveCallback(m.handleFrame)
	return m
}

// Describe implements prometheus.Collector.
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	m.framesSent.Describe(ch)
	m.framesRecv.Describe(ch)
	m.busLoadGauge.Describe(ch)
	m.sessionsGauge.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	m.sessionsGauge.Set(float64(m.transport.ActiveSessionCount()))
	m.framesSent.Collect(ch)
	m.framesRecv.Collect(ch)
	m.busLoadGauge.Collect(ch)
	m.sessionsGauge.Collect(ch)
}

// AddInternalControlFunction registers an internally-owned CF at preferred
// address preferredAddr and immediately starts its address-claim sequence.
func (m *Manager) AddInternalControlFunction(name j1939.Name, preferredAddr j1939.Address) (*j1939.InternalControlFunction, error) {
	handle := m.nextHandle
	m.nextHandle++

	cf := &j1939.InternalControlFunction{
		Handle:           handle,
		Port:             m.cfg.Port,
		Name:             name,
		PreferredAddress: preferredAddr,
	}
	m.internal[handle] = cf

	claimer := claim.NewClaimer(cf, m)
	m.claimers[handle] = claimer
	if err := claimer.Start(); err != nil {
		return nil, err
	}
	return cf, nil
}

// AddPartnerControlFunction registers a remote CF this stack wants to find,
// matched against observed Address Claimed frames by filters.
func (m *Manager) AddPartnerControlFunction(filters ...j1939.NameFilter) *j1939.PartnerControlFunction {
	handle := m.nextHandle
	m.nextHandle++

	cf := &j1939.PartnerControlFunction{Handle: handle, Port: m.cfg.Port, Filters: filters}
	m.partner[handle] = cf
	return cf
}

// OnPartnerFound fires the first time a registered PartnerControlFunction
// locates its matching remote device.
func (m *Manager) OnPartnerFound() *j1939.Event[*j1939.PartnerControlFunction] {
	return &m.onPartnerFind
}

// OnMessage subscribes callback to every reassembled (or already
// single-frame) Message carrying pgn.
func (m *Manager) OnMessage(pgn j1939.PGN, callback func(j1939.Message)) {
	m.onMessage[pgn] = append(m.onMessage[pgn], callback)
}

// OnAnyMessage subscribes callback to every Message regardless of PGN.
func (m *Manager) OnAnyMessage() *j1939.Event[j1939.Message] {
	return &m.onAnyMessage
}

// InternalControlFunctions returns every registered internal CF.
func (m *Manager) InternalControlFunctions() []*j1939.InternalControlFunction {
	out := make([]*j1939.InternalControlFunction, 0, len(m.internal))
	for _, cf := range m.internal {
		out = append(out, cf)
	}
	return out
}

// PartnerControlFunctions returns every registered partner CF.
func (m *Manager) PartnerControlFunctions() []*j1939.PartnerControlFunction {
	out := make([]*j1939.PartnerControlFunction, 0, len(m.partner))
	for _, cf := range m.partner {
		out = append(out, cf)
	}
	return out
}

// ExternalControlFunctions returns every currently-tracked, unsolicited
// remote CF.
func (m *Manager) ExternalControlFunctions() []*j1939.ExternalControlFunction {
	out := make([]*j1939.ExternalControlFunction, 0, len(m.external))
	for _, cf := range m.external {
		out = append(out, cf)
	}
	return out
}

// ControlFunctionByName searches internal, partner and external registries
// for a CF claiming name, in that order.
func (m *Manager) ControlFunctionByName(name j1939.Name) (addr j1939.Address, found bool) {
	for _, cf := range m.internal {
		if cf.Name.Uint64() == name.Uint64() {
			return cf.Address, true
		}
	}
	for _, cf := range m.partner {
		if cf.Found && cf.Name.Uint64() == name.Uint64() {
			return cf.Address, true
		}
	}
	for _, cf := range m.external {
		if cf.Name.Uint64() == name.Uint64() {
			return cf.Address, true
		}
	}
	return 0, false
}

// IsAddressOccupied implements claim.Network: true if any internal, partner
// or external CF on port currently holds addr.
func (m *Manager) IsAddressOccupied(port uint8, addr j1939.Address) bool {
	if port != m.cfg.Port {
		return false
	}
	for _, cf := range m.internal {
		if cf.Address == addr && (cf.State == j1939.ClaimStateWaitingForContention || cf.State == j1939.ClaimStateClaimed) {
			return true
		}
	}
	for _, cf := range m.partner {
		if cf.Found && cf.Address == addr {
			return true
		}
	}
	for _, cf := range m.external {
		if cf.Address == addr {
			return true
		}
	}
	return false
}

// SendFrame implements claim.Network and is also used directly by
// application protocol packages that need raw frame access.
func (m *Manager) SendFrame(frame j1939.Frame) error {
	return m.sendRaw(frame)
}

// SendMessage sends a logical Message, transparently using a single CAN
// frame or the TP/ETP engine depending on payload size.
func (m *Manager) SendMessage(msg j1939.Message) error {
	id := j1939.Identifier{Priority: msg.Priority, PGN: msg.PGN, Source: msg.Source, Destination: msg.Destination}
	if !msg.RequiresTransportProtocol() {
		return m.sendRaw(j1939.Frame{ID: id.Encode(), Data: msg.Data})
	}
	return m.transport.Send(msg.Source, msg.Destination, msg.PGN, msg.Data)
}

func (m *Manager) sendRaw(frame j1939.Frame) error {
	if err := m.ep.SendFrame(frame); err != nil {
		return j1939.EndpointError{Err: err}
	}
	m.framesSent.Inc()
	m.bitsInWindowMs += approxFrameBits(len(frame.Data))
	return nil
}

// Tick advances every owned claimer and transport session by elapsedMs,
// and prunes stale external control functions.
func (m *Manager) Tick(elapsedMs int64) error {
	m.clockMs += elapsedMs

	for _, claimer := range m.claimers {
		if err := claimer.Tick(elapsedMs); err != nil {
			return err
		}
	}
	if err := m.transport.Tick(elapsedMs); err != nil {
		return err
	}

	for handle, cf := range m.external {
		if m.clockMs-cf.LastSeenMs > m.cfg.ExternalCFTimeoutMs {
			delete(m.external, handle)
		}
	}

	m.elapsedInWindowMs += elapsedMs
	if m.elapsedInWindowMs >= busLoadWindowMs {
		const busCapacityBitsPerWindow = 250000.0 * busLoadWindowMs / 1000.0 // 250 kbit/s default
		m.busLoadFraction = m.bitsInWindowMs / busCapacityBitsPerWindow
		m.busLoadGauge.Set(m.busLoadFraction)
		m.bitsInWindowMs = 0
		m.elapsedInWindowMs = 0
	}
	return nil
}

// BusLoadFraction returns the most recently computed bus-load fraction
// (spec.md §7's rolling 100ms window).
func (m *Manager) BusLoadFraction() float64 {
	return m.busLoadFraction
}

func (m *Manager) handleFrame(frame j1939.Frame) {
	m.framesRecv.Inc()
	m.bitsInWindowMs += approxFrameBits(len(frame.Data))

	id := frame.Identifier()
	if id.PGN == j1939.PGNAddressClaimed {
		m.handleAddressClaimed(id, frame.Data)
		return
	}
	if id.PGN == j1939.PGNTPConnManagement || id.PGN == j1939.PGNTPDataTransfer ||
		id.PGN == j1939.PGNETPConnManagement || id.PGN == j1939.PGNETPDataTransfer {
		_ = m.transport.HandleFrame(frame)
		return
	}
	msg := j1939.Message{PGN: id.PGN, Priority: id.Priority, Source: id.Source, Destination: id.Destination, Data: frame.Data, Timestamp: frame.Time}
	m.dispatchMessage(msg)
}

func (m *Manager) handleReassembledMessage(ct transport.CompletedTransfer) {
	msg := j1939.Message{
		PGN:         ct.Key.PGN,
		Source:      ct.Key.Source,
		Destination: ct.Key.Destination,
		Data:        ct.Data,
	}
	m.dispatchMessage(msg)
}

func (m *Manager) dispatchMessage(msg j1939.Message) {
	for _, cb := range m.onMessage[msg.PGN] {
		cb(msg)
	}
	m.onAnyMessage.Emit(msg)
}

func (m *Manager) handleAddressClaimed(id j1939.Identifier, data []byte) {
	name, err := j1939.NameFromBytes(data)
	if err != nil {
		return
	}

	for _, claimer := range m.claimers {
		_ = claimer.HandleAddressClaimed(id.Source, name)
	}

	for _, cf := range m.partner {
		if !cf.Found && cf.Matches(name) {
			cf.Found = true
			cf.Name = name
			cf.Address = id.Source
			m.onPartnerFind.Emit(cf)
			return
		}
		if cf.Found && cf.Name.Uint64() == name.Uint64() {
			cf.Address = id.Source
			return
		}
	}

	for _, cf := range m.external {
		if cf.Name.Uint64() == name.Uint64() {
			cf.Address = id.Source
			cf.LastSeenMs = m.clockMs
			return
		}
	}

	handle := m.nextHandle
	m.nextHandle++
	m.external[handle] = &j1939.ExternalControlFunction{
		Handle:     handle,
		Port:       m.cfg.Port,
		Name:       name,
		Address:    id.Source,
		LastSeenMs: m.clockMs,
	}
}
