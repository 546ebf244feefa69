package market

import (
	"github.com/Godyy/go-market/protocol"
)

// Registry holds the marketplace state: listeners, services, bids,
// purchases, periods and provider availability.
//
// Implementations are driven from a single goroutine and need no locking of
// their own. Methods taking a response message may add parameters to it.
// Failures are reported as *FoundationError or *MarketplaceError.
type Registry interface {
	// InsertListener binds agent to peer, replacing any previous binding of
	// peer.
	InsertListener(agent string, peer PeerAddress, resp *protocol.Message) error
	DeleteListener(peer PeerAddress, resp *protocol.Message) error
	IsAlreadyListener(peer PeerAddress) bool
	StartListening(peer PeerAddress, port uint16, listenerType string, capacity CapacityType, resp *protocol.Message) error

	InitializePeriodSession(period uint32) error
	FinalizePeriodSession(period uint32, resp *protocol.Message) error

	GetService(id string) (*Service, error)
	AddBid(bid *Bid, resp *protocol.Message) error
	DeleteBid(bid *Bid, resp *protocol.Message) error
	AddPurchase(purchase *Purchase, resp *protocol.Message) error

	SetProviderAvailability(provider, resource string, quantity float64, resp *protocol.Message) error
	GetProviderAvailability(provider, service, bid string, resp *protocol.Message) error
	GetBestBids(provider, service string, resp *protocol.Message) error
	SendBid(bid string, resp *protocol.Message) error
	SendProviderChannel(provider string, resp *protocol.Message) error

	// AddStagedData appends stream bytes received from a listener.
	AddStagedData(peer PeerAddress, data []byte) error
	// GetMessage extracts the next complete message staged for peer.
	GetMessage(peer PeerAddress) (*protocol.Message, bool, error)
}

// Terminator ends the whole server.
type Terminator interface {
	Terminate()
}

type TerminatorFunc func()

func (f TerminatorFunc) Terminate() { f() }
