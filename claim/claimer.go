// Package claim implements the ISO 11783-5 / SAE J1939-81 address-claim
// state machine run by each internal control function (spec.md §4.1).
package claim

import (
	"github.com/isoagnet/go-j1939/j1939"
)

// ClaimTimeoutMs is the contention window: after broadcasting our claim we
// wait this long for a losing contender to show up before declaring
// ourselves Claimed.
const ClaimTimeoutMs = 250

// DynamicAddressRangeStart/End bound the addresses an arbitrary-address-
// capable control function may self-select when it loses contention at its
// preferred address.
const (
	DynamicAddressRangeStart j1939.Address = 128
	DynamicAddressRangeEnd   j1939.Address = 247
)

// Network is the subset of network.Manager's behaviour the claimer needs:
// sending frames and asking whether a candidate dynamic address is already
// occupied on this CF's port. Kept as a narrow interface so this package
// does not import network (which imports claim).
type Network interface {
	SendFrame(frame j1939.Frame) error
	IsAddressOccupied(port uint8, addr j1939.Address) bool
}

// Claimer runs the address-claim state machine for a single
// InternalControlFunction. One Claimer exists per internal CF.
type Claimer struct {
	cf  *j1939.InternalControlFunction
	net Network

	// remainingMs counts down from ClaimTimeoutMs while
	// ClaimStateWaitingForContention; -1 means no timer running.
	remainingMs int64

	// nextCandidate is the next dynamic address to try, used while
	// searching the dynamic range for a free address.
	nextCandidate j1939.Address
}

// NewClaimer constructs a Claimer for cf, communicating through net. cf's
// State starts (or is reset to) ClaimStateNoAddress.
func NewClaimer(cf *j1939.InternalControlFunction, net Network) *Claimer {
	cf.State = j1939.ClaimStateNoAddress
	cf.Address = j1939.AddressNull
	return &Claimer{
		cf:            cf,
		net:           net,
		remainingMs:   -1,
		nextCandidate: DynamicAddressRangeStart,
	}
}

// Start broadcasts a Request for Address Claimed (so any already-claimed
// peer on the bus announces itself promptly), enters WaitingForContention
// at the preferred address with a fresh 250ms timer, and then broadcasts
// our own Address Claimed. The state is set before the claim goes out so
// that a peer's defending claim, which may be handled before the send
// returns, is judged as contention.
func (c *Claimer) Start() error {
	if err := c.sendRequestForAddressClaimed(); err != nil {
		return err
	}
	c.cf.Address = c.cf.PreferredAddress
	c.cf.State = j1939.ClaimStateWaitingForContention
	c.remainingMs = ClaimTimeoutMs
	return c.broadcastClaim()
}

// Tick advances the claimer's virtual clock by elapsedMs. When the
// contention timer expires with no losing contention observed, the CF
// transitions to Claimed and OnAddressClaimed fires exactly once.
func (c *Claimer) Tick(elapsedMs int64) error {
	if c.cf.State != j1939.ClaimStateWaitingForContention || c.remainingMs < 0 {
		return nil
	}
	c.remainingMs -= elapsedMs
	if c.remainingMs > 0 {
		return nil
	}
	c.remainingMs = -1
	c.cf.State = j1939.ClaimStateClaimed
	c.cf.OnAddressClaimed.Emit(c.cf.Address)
	return nil
}

// HandleAddressClaimed processes an observed Address Claimed frame from
// source claiming name. It implements the contention/defence/loss rules of
// spec.md §4.1 for both WaitingForContention and Claimed states; frames
// claiming an address other than ours are ignored.
func (c *Claimer) HandleAddressClaimed(source j1939.Address, name j1939.Name) error {
	if source != c.cf.Address {
		return nil
	}
	// A peer re-announcing our own NAME back at us is not a contest.
	if name.Uint64() == c.cf.Name.Uint64() {
		return nil
	}

	switch c.cf.State {
	case j1939.ClaimStateWaitingForContention:
		if name.Less(c.cf.Name) {
			return c.loseAddress()
		}
		// Higher NAME contender: defend by re-broadcasting our claim.
		return c.broadcastClaim()

	case j1939.ClaimStateClaimed:
		if name.Less(c.cf.Name) {
			c.cf.OnAddressLost.Emit(struct{}{})
			c.cf.State = j1939.ClaimStateNoAddress
			c.cf.Address = j1939.AddressNull
			return c.loseAddress()
		}
		// Higher NAME contender challenging our already-settled claim:
		// defend immediately (well within the 250ms window).
		return c.broadcastClaim()
	}
	return nil
}

// loseAddress handles losing an address contest, from either
// WaitingForContention or an already-Claimed address: an
// arbitrary-address-capable CF tries the next free dynamic address and
// restarts the contention timer; otherwise it gives up permanently.
func (c *Claimer) loseAddress() error {
	if !c.cf.Name.ArbitraryAddressCapable {
		c.cf.State = j1939.ClaimStateCannotClaim
		c.remainingMs = -1
		return c.broadcastCannotClaim()
	}

	addr, ok := c.nextFreeDynamicAddress()
	if !ok {
		c.cf.State = j1939.ClaimStateCannotClaim
		c.remainingMs = -1
		return c.broadcastCannotClaim()
	}
	c.cf.Address = addr
	c.cf.State = j1939.ClaimStateWaitingForContention
	c.remainingMs = ClaimTimeoutMs
	return c.broadcastClaim()
}

// nextFreeDynamicAddress scans the dynamic address range starting from
// nextCandidate, skipping addresses the network reports as occupied.
func (c *Claimer) nextFreeDynamicAddress() (j1939.Address, bool) {
	for addr := c.nextCandidate; addr <= DynamicAddressRangeEnd; addr++ {
		if !c.net.IsAddressOccupied(c.cf.Port, addr) {
			c.nextCandidate = addr + 1
			return addr, true
		}
	}
	return 0, false
}

func (c *Claimer) broadcastClaim() error {
	return c.net.SendFrame(j1939.Frame{
		ID:   claimIdentifier(c.cf.Address, c.cf.Port).Encode(),
		Data: c.cf.Name.Bytes(),
	})
}

func (c *Claimer) broadcastCannotClaim() error {
	return c.net.SendFrame(j1939.Frame{
		ID:   claimIdentifier(j1939.AddressNull, c.cf.Port).Encode(),
		Data: c.cf.Name.Bytes(),
	})
}

func (c *Claimer) sendRequestForAddressClaimed() error {
	id := j1939.Identifier{
		Priority:    6,
		PGN:         j1939.PGNRequest,
		Source:      j1939.AddressNull,
		Destination: j1939.AddressGlobal,
	}
	return c.net.SendFrame(j1939.Frame{
		ID: id.Encode(),
		Data: []byte{
			uint8(j1939.PGNAddressClaimed),
			uint8(j1939.PGNAddressClaimed >> 8),
			uint8(j1939.PGNAddressClaimed >> 16),
		},
	})
}

func claimIdentifier(source j1939.Address, _ uint8) j1939.Identifier {
	return j1939.Identifier{
		Priority:    6,
		PGN:         j1939.PGNAddressClaimed,
		Source:      source,
		Destination: j1939.AddressGlobal,
	}
}
