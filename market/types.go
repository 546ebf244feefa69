package market

import (
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/Godyy/go-market/protocol"
)

// PeerAddress identifies a connected socket.
type PeerAddress = netip.AddrPort

// CapacityType is a provider's declared bidding granularity.
type CapacityType int8

const (
	UndefinedCapacity = CapacityType(iota)
	BidByBid
	BulkCapacity
)

var capacityTypeStrings = [...]string{
	UndefinedCapacity: "undefined",
	BidByBid:          "bid",
	BulkCapacity:      "bulk",
}

func (c CapacityType) String() string {
	if c < 0 || int(c) >= len(capacityTypeStrings) {
		return capacityTypeStrings[UndefinedCapacity]
	}
	return capacityTypeStrings[c]
}

// ParseCapacityType resolves the capacity declared with send_port. Only
// providers declare one.
func ParseCapacityType(listenerType, capacity string) CapacityType {
	if listenerType != "provider" {
		return UndefinedCapacity
	}
	switch capacity {
	case "bid":
		return BidByBid
	case "bulk":
		return BulkCapacity
	}
	return UndefinedCapacity
}

// Listener binds a peer to an agent identity.
type Listener struct {
	Agent    string
	Peer     PeerAddress
	Port     uint16
	Type     string
	Capacity CapacityType
}

type Service struct {
	ID       string
	Name     string
	Resource string
}

const (
	BidActive   = "active"
	BidInactive = "inactive"
)

// Bid is a provider's offer for a service.
type Bid struct {
	ID         string
	Provider   string
	Service    string
	Quantity   float64
	UnitPrice  float64
	Status     string
	ParentBid  string
	Period     uint32
	Attributes map[string]string
}

func (b *Bid) IsActive() bool { return b.Status == BidActive }

// Purchase is a consumer's commitment against a bid.
type Purchase struct {
	ID              string
	Bid             string
	Service         string
	Quantity        float64
	QuantityBacklog float64
	Attributes      map[string]string
}

func (p *Purchase) SetQuantityBacklog(q float64) { p.QuantityBacklog = q }

// reserved parameters never copied into attributes.
var bidFields = map[string]bool{
	"Id": true, "Provider": true, "Service": true, "Quantity": true,
	"Unit_Price": true, "Status": true, "Parent_Bid": true, "Period": true,
}

var purchaseFields = map[string]bool{
	"Id": true, "Bid": true, "Service": true, "Quantity": true,
}

// NewBid builds a bid for service from a receive_bid request.
func NewBid(service *Service, msg *protocol.Message) (*Bid, error) {
	invalid := func(reason string) error {
		return NewFoundationError(CodeInvalidBid, "Invalid bid: "+reason)
	}

	bid := &Bid{
		ID:         msg.Get("Id"),
		Provider:   msg.Get("Provider"),
		Service:    service.ID,
		Status:     strings.ToLower(msg.Get("Status")),
		ParentBid:  msg.Get("Parent_Bid"),
		Attributes: make(map[string]string),
	}
	if bid.ID == "" {
		return nil, invalid("missing Id")
	}
	if bid.Provider == "" {
		return nil, invalid("missing Provider")
	}
	switch bid.Status {
	case "":
		bid.Status = BidActive
	case BidActive, BidInactive:
	default:
		return nil, invalid("unknown Status " + bid.Status)
	}

	var err error
	if bid.Quantity, err = parseQuantity(msg, "Quantity", bid.IsActive()); err != nil {
		return nil, invalid(err.Error())
	}
	if bid.UnitPrice, err = parseQuantity(msg, "Unit_Price", bid.IsActive()); err != nil {
		return nil, invalid(err.Error())
	}
	if v, ok := msg.Lookup("Period"); ok {
		p, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, invalid("bad Period")
		}
		bid.Period = uint32(p)
	}

	for _, p := range msg.Params() {
		if !bidFields[p.Name] {
			bid.Attributes[p.Name] = p.Value
		}
	}
	return bid, nil
}

// NewPurchase builds a purchase for service from a receive_purchase request.
func NewPurchase(service *Service, msg *protocol.Message) (*Purchase, error) {
	invalid := func(reason string) error {
		return NewFoundationError(CodeInvalidPurchase, "Invalid purchase: "+reason)
	}

	purchase := &Purchase{
		ID:         msg.Get("Id"),
		Bid:        msg.Get("Bid"),
		Service:    service.ID,
		Attributes: make(map[string]string),
	}
	if purchase.ID == "" {
		return nil, invalid("missing Id")
	}
	if purchase.Bid == "" {
		return nil, invalid("missing Bid")
	}

	var err error
	if purchase.Quantity, err = parseQuantity(msg, "Quantity", true); err != nil {
		return nil, invalid(err.Error())
	}

	for _, p := range msg.Params() {
		if !purchaseFields[p.Name] {
			purchase.Attributes[p.Name] = p.Value
		}
	}
	return purchase, nil
}

type fieldError string

func (e fieldError) Error() string { return string(e) }

// parseQuantity reads a non-negative number. Absent optional fields are 0.
func parseQuantity(msg *protocol.Message, name string, required bool) (float64, error) {
	v, ok := msg.Lookup(name)
	if !ok {
		if required {
			return 0, fieldError("missing " + name)
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !ValidQuantity(f) {
		return 0, fieldError("bad " + name)
	}
	return f, nil
}

// ValidQuantity reports whether f is a finite, non-negative amount.
func ValidQuantity(f float64) bool {
	return f >= 0 && !math.IsInf(f, 1)
}
