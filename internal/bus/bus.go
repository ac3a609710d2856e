// Package bus defines the message-bus collaborator that the connection
// dispatcher forwards typed records and raw BMP frames to. It declares the
// interface only; internal/kafkabus provides the concrete implementation.
package bus

import "context"

// RouterAction distinguishes the lifecycle stage a router record update
// represents.
type RouterAction int

const (
	RouterFirst RouterAction = iota
	RouterInit
	RouterTerm
)

// PeerAction distinguishes the lifecycle stage a peer record update
// represents.
type PeerAction int

const (
	PeerFirst PeerAction = iota
	PeerUp
	PeerDown
)

// Router is the router-scoped record forwarded on FIRST/INIT/TERM.
type Router struct {
	RouterHash [16]byte
	RouterIP   string
	Action     RouterAction
	Name       string // hostname/sysName, populated from Initiation TLVs
	Descr      string // sysDescr, populated from Initiation TLVs
	TermReason int    // valid on RouterTerm only
	TermText   string // valid on RouterTerm only
}

// Peer is the peer-scoped record forwarded on FIRST/UP/DOWN.
type Peer struct {
	PeerHash    [16]byte
	RouterHash  [16]byte
	PeerAddr    string
	PeerAS      uint32
	PeerBGPID   string
	PeerRD      string
	Action      PeerAction
	LocalAddr   string
	LocalPort   uint16
	RemotePort  uint16
	LocalASN    uint32
	LocalBGPID  string
	ErrorText   string // populated for PeerDown per reason-code branching
}

// StatReport is a single Statistics Report TLV forwarded via add_StatReport.
type StatReport struct {
	PeerHash  [16]byte
	StatType  uint16
	StatValue uint64
}

// Route is a single NLRI change extracted from a Route Monitoring UPDATE,
// forwarded via AddRoute. Action is "A" (advertise) or "D" (withdraw).
type Route struct {
	PeerHash   [16]byte
	RouterHash [16]byte
	AFI        int
	Prefix     string
	PathID     int64
	Action     string
	Nexthop    string
	ASPath     string
	Origin     string
	LocalPref  *uint32
	MED        *uint32
	CommStd    []string
	CommExt    []string
	CommLarge  []string
}

// Bus is the message-bus collaborator. Every method takes the ambient
// context so a concrete implementation may honor cancellation/deadlines on
// its outbound transport.
type Bus interface {
	// UpdateRouter emits a router record. Called unconditionally on every
	// message other than Initiation and Termination (Action=RouterFirst);
	// Initiation gets only Action=RouterInit and Termination only
	// Action=RouterTerm.
	UpdateRouter(ctx context.Context, r Router) error

	// UpdateRouterTemplated emits a router record using a template
	// resolved by topic name, only called when a template binding exists
	// for BMP_ROUTER on Initiation.
	UpdateRouterTemplated(ctx context.Context, topic string, r Router) error

	// UpdatePeer emits a peer record for FIRST/UP/DOWN transitions.
	UpdatePeer(ctx context.Context, p Peer) error

	// AddStatReport emits one Statistics Report counter.
	AddStatReport(ctx context.Context, s StatReport) error

	// AddRoute emits one decoded NLRI change from a Route Monitoring
	// message. The peer named by PeerHash must already have a prior
	// FIRST or UP record on the bus.
	AddRoute(ctx context.Context, r Route) error

	// SendBMPRaw forwards the exact bytes of one BMP message, after any
	// typed records for that message have already been sent.
	SendBMPRaw(ctx context.Context, routerHash [16]byte, peerHash *[16]byte, raw []byte) error
}
