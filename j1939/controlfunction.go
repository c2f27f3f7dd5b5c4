package j1939

// CFHandle is a stable, manager-owned key identifying a control function.
// Application protocols hold (manager, handle) pairs instead of raw CF
// pointers/references, so a CF and its owning network.Manager never need
// to hold cyclic references to each other (spec.md §9, "Back-references").
type CFHandle uint32

// ClaimState is the Address Claimer's state machine position.
type ClaimState uint8

const (
	ClaimStateNoAddress ClaimState = iota
	ClaimStateWaitingForContention
	ClaimStateClaimed
	ClaimStateCannotClaim
)

func (s ClaimState) String() string {
	switch s {
	case ClaimStateNoAddress:
		return "NoAddress"
	case ClaimStateWaitingForContention:
		return "WaitingForContention"
	case ClaimStateClaimed:
		return "Claimed"
	case ClaimStateCannotClaim:
		return "CannotClaim"
	default:
		return "unknown"
	}
}

// NameFilter is a single predicate over a Name's fields, used by a
// PartnerControlFunction to describe the remote device it wants to locate.
type NameFilter struct {
	// Match is called with every Name observed on the bus (via an Address
	// Claimed frame). The partner is considered found on the first Name
	// for which every one of its filters returns true.
	Match func(Name) bool
}

// NameFilterFunctionCode matches control functions advertising the given
// J1939 function code.
func NameFilterFunctionCode(code uint8) NameFilter {
	return NameFilter{Match: func(n Name) bool { return n.FunctionCode == code }}
}

// NameFilterManufacturerCode matches control functions advertising the
// given manufacturer code.
func NameFilterManufacturerCode(code uint16) NameFilter {
	return NameFilter{Match: func(n Name) bool { return n.ManufacturerCode == code }}
}

// NameFilterIdentityNumber matches a single, specific device identity.
func NameFilterIdentityNumber(id uint32) NameFilter {
	return NameFilter{Match: func(n Name) bool { return n.IdentityNumber == id }}
}

// MatchesAllFilters reports whether every filter matches n. An empty filter list
// matches everything.
func MatchesAllFilters(filters []NameFilter, n Name) bool {
	for _, f := range filters {
		if !f.Match(n) {
			return false
		}
	}
	return true
}

// ControlFunctionKind distinguishes the three CF variants sharing the
// {address, NAME, port} observable surface (spec.md §3).
type ControlFunctionKind uint8

const (
	ControlFunctionInternal ControlFunctionKind = iota
	ControlFunctionPartner
	ControlFunctionExternal
)

// InternalControlFunction is a control function owned by this stack: it
// has a preferred address, runs the address-claim state machine, and may
// have subscribed application-protocol events.
type InternalControlFunction struct {
	Handle CFHandle
	Port   uint8
	Name   Name

	PreferredAddress Address
	Address          Address
	State            ClaimState

	// OnAddressClaimed fires exactly once per successful claim with the
	// claimed address.
	OnAddressClaimed Event[Address]
	// OnAddressLost fires when a higher-priority contender takes over our
	// claimed address.
	OnAddressLost Event[struct{}]
}

func (cf *InternalControlFunction) Kind() ControlFunctionKind { return ControlFunctionInternal }

// PartnerControlFunction describes a remote control function this stack
// wishes to locate via a set of NameFilter predicates. Address/Name are
// populated once a matching Address Claimed frame is observed.
type PartnerControlFunction struct {
	Handle  CFHandle
	Port    uint8
	Filters []NameFilter

	Name    Name
	Address Address
	Found   bool
}

func (cf *PartnerControlFunction) Kind() ControlFunctionKind { return ControlFunctionPartner }

// Matches reports whether n satisfies every one of cf's NameFilters.
func (cf *PartnerControlFunction) Matches(n Name) bool {
	return MatchesAllFilters(cf.Filters, n)
}

// ExternalControlFunction is any remote control function discovered by
// observing an Address Claimed frame that was not requested via a
// PartnerControlFunction. Pruned after a configured silence interval.
type ExternalControlFunction struct {
	Handle  CFHandle
	Port    uint8
	Name    Name
	Address Address

	// LastSeenMs is the tick-clock timestamp (milliseconds) of the last
	// Address Claimed frame observed from this CF, used by the owning
	// network.Manager to prune stale entries after ExternalCFTimeoutMs.
	LastSeenMs int64
}
