// Package memory is an in-memory market.Registry.
package memory

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/Godyy/go-market/market"
	"github.com/Godyy/go-market/protocol"
)

var log = logging.Logger("registry")

type availabilityKey struct {
	provider string
	resource string
}

// Registry keeps the whole marketplace in maps. It is not safe for
// concurrent use; the server drives it from the loop goroutine.
type Registry struct {
	services     map[string]*market.Service
	listeners    map[market.PeerAddress]*market.Listener
	agents       map[string]market.PeerAddress
	bids         map[string]*market.Bid
	purchases    map[string]*market.Purchase
	availability map[availabilityKey]float64
	staged       map[market.PeerAddress]*protocol.Framer

	period       uint32
	periodActive bool

	maxMessageSize int
}

var _ market.Registry = (*Registry)(nil)

type Option func(*Registry)

// WithMaxMessageSize bounds the unterminated bytes staged per listener.
func WithMaxMessageSize(n int) Option {
	return func(r *Registry) { r.maxMessageSize = n }
}

func New(services []*market.Service, opts ...Option) *Registry {
	r := &Registry{
		services:     make(map[string]*market.Service, len(services)),
		listeners:    make(map[market.PeerAddress]*market.Listener),
		agents:       make(map[string]market.PeerAddress),
		bids:         make(map[string]*market.Bid),
		purchases:    make(map[string]*market.Purchase),
		availability: make(map[availabilityKey]float64),
		staged:       make(map[market.PeerAddress]*protocol.Framer),
	}
	for _, s := range services {
		r.services[s.ID] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func listenerNotFound() error {
	return market.NewMarketplaceError(market.CodeListenerNotFound, "Listener not found")
}

func bidNotFound() error {
	return market.NewMarketplaceError(market.CodeBidNotFound, "Bid not found")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (r *Registry) InsertListener(agent string, peer market.PeerAddress, resp *protocol.Message) error {
	old, rebound := r.listeners[peer]
	r.listeners[peer] = &market.Listener{Agent: agent, Peer: peer}
	r.agents[agent] = peer
	if rebound && old.Agent != agent {
		r.reindexAgent(old.Agent, peer)
	}
	if _, ok := r.staged[peer]; !ok {
		r.staged[peer] = protocol.NewFramer(nil, r.maxMessageSize)
	}
	log.Infow("listener inserted", "agent", agent, "peer", peer)
	return nil
}

func (r *Registry) DeleteListener(peer market.PeerAddress, resp *protocol.Message) error {
	l, ok := r.listeners[peer]
	if !ok {
		return listenerNotFound()
	}
	delete(r.listeners, peer)
	delete(r.staged, peer)
	r.reindexAgent(l.Agent, peer)
	log.Infow("listener deleted", "agent", l.Agent, "peer", peer)
	return nil
}

// reindexAgent points agent at another of its listeners once gone no longer
// serves it. Listeners with a declared port win.
func (r *Registry) reindexAgent(agent string, gone market.PeerAddress) {
	if r.agents[agent] != gone {
		return
	}
	delete(r.agents, agent)
	for peer, l := range r.listeners {
		if l.Agent != agent {
			continue
		}
		if cur, ok := r.agents[agent]; !ok || (r.listeners[cur].Port == 0 && l.Port != 0) {
			r.agents[agent] = peer
		}
	}
}

func (r *Registry) IsAlreadyListener(peer market.PeerAddress) bool {
	_, ok := r.listeners[peer]
	return ok
}

// Listener returns the listener bound to peer.
func (r *Registry) Listener(peer market.PeerAddress) (*market.Listener, bool) {
	l, ok := r.listeners[peer]
	return l, ok
}

func (r *Registry) StartListening(peer market.PeerAddress, port uint16, listenerType string, capacity market.CapacityType, resp *protocol.Message) error {
	l, ok := r.listeners[peer]
	if !ok {
		return listenerNotFound()
	}
	l.Port, l.Type, l.Capacity = port, listenerType, capacity
	log.Debugw("listener port", "agent", l.Agent, "port", port, "type", listenerType, "capacity", capacity)
	return nil
}

// InitializePeriodSession opens period. Bids received without a period are
// stamped with it.
func (r *Registry) InitializePeriodSession(period uint32) error {
	r.period = period
	r.periodActive = true
	return nil
}

// FinalizePeriodSession closes the current period: bids stamped with it or
// an earlier one expire and settled purchases are cleared.
func (r *Registry) FinalizePeriodSession(period uint32, resp *protocol.Message) error {
	if !r.periodActive || period != r.period {
		return market.NewMarketplaceError(market.CodeInvalidPeriod, "Invalid period")
	}

	expired := 0
	for id, bid := range r.bids {
		if bid.Period != 0 && bid.Period <= period {
			delete(r.bids, id)
			expired++
		}
	}
	settled := len(r.purchases)
	clear(r.purchases)
	r.periodActive = false

	log.Infow("period finalized", "period", period, "expired", expired, "purchases", settled)
	resp.Set("Bids", strconv.Itoa(len(r.bids)))
	resp.Set("Purchases", strconv.Itoa(settled))
	return nil
}

// CurrentPeriod returns the open period, if any.
func (r *Registry) CurrentPeriod() (uint32, bool) {
	return r.period, r.periodActive
}

func (r *Registry) GetService(id string) (*market.Service, error) {
	s, ok := r.services[id]
	if !ok {
		return nil, market.NewFoundationError(market.CodeServiceNotFound, "Service not found")
	}
	return s, nil
}

func (r *Registry) AddBid(bid *market.Bid, resp *protocol.Message) error {
	if bid.Period == 0 && r.periodActive {
		bid.Period = r.period
	}
	r.bids[bid.ID] = bid
	log.Debugw("bid added", "bid", bid.ID, "provider", bid.Provider, "service", bid.Service, "price", bid.UnitPrice)
	return nil
}

func (r *Registry) DeleteBid(bid *market.Bid, resp *protocol.Message) error {
	if _, ok := r.bids[bid.ID]; ok {
		delete(r.bids, bid.ID)
		log.Debugw("bid deleted", "bid", bid.ID)
	}
	return nil
}

// Bid returns a stored bid.
func (r *Registry) Bid(id string) (*market.Bid, bool) {
	b, ok := r.bids[id]
	return b, ok
}

// AddPurchase serves as much of the purchase as the bid and its provider's
// availability allow. The unserved remainder is kept as backlog.
func (r *Registry) AddPurchase(purchase *market.Purchase, resp *protocol.Message) error {
	bid, ok := r.bids[purchase.Bid]
	if !ok || !bid.IsActive() || bid.Service != purchase.Service {
		return bidNotFound()
	}
	service, err := r.GetService(bid.Service)
	if err != nil {
		return err
	}

	served := math.Min(purchase.Quantity, bid.Quantity)
	key := availabilityKey{provider: bid.Provider, resource: service.Resource}
	avail, limited := r.availability[key]
	if limited {
		served = math.Min(served, avail)
	}
	// NaN or a drained bid serves nothing
	if !(served > 0) {
		served = 0
	}
	if limited {
		r.availability[key] = avail - served
	}
	bid.Quantity -= served

	purchase.SetQuantityBacklog(purchase.Quantity - served)
	r.purchases[purchase.ID] = purchase
	log.Debugw("purchase added", "purchase", purchase.ID, "bid", bid.ID, "served", served, "backlog", purchase.QuantityBacklog)

	resp.Set("Quantity_Purchased", formatFloat(served))
	return nil
}

func (r *Registry) SetProviderAvailability(provider, resource string, quantity float64, resp *protocol.Message) error {
	if provider == "" || resource == "" {
		return market.NewMarketplaceError(market.CodeMissingParameters, "Missing Parameters")
	}
	if !market.ValidQuantity(quantity) {
		return market.NewMarketplaceError(market.CodeInvalidQuantity, "Invalid quantity")
	}
	r.availability[availabilityKey{provider: provider, resource: resource}] = quantity
	log.Debugw("availability", "provider", provider, "resource", resource, "quantity", quantity)
	return nil
}

func (r *Registry) GetProviderAvailability(provider, service, bid string, resp *protocol.Message) error {
	s, err := r.GetService(service)
	if err != nil {
		return err
	}
	quantity, ok := r.availability[availabilityKey{provider: provider, resource: s.Resource}]
	if !ok {
		return market.NewMarketplaceError(market.CodeProviderNotFound, "Provider not found")
	}
	if bid != "" {
		b, ok := r.bids[bid]
		if !ok || b.Provider != provider {
			return bidNotFound()
		}
		quantity = math.Min(quantity, b.Quantity)
	}

	resp.Set("Provider", provider)
	resp.Set("Resource", s.Resource)
	resp.Set("Quantity", formatFloat(quantity))
	return nil
}

// GetBestBids lists the active bids other providers hold for service,
// cheapest first.
func (r *Registry) GetBestBids(provider, service string, resp *protocol.Message) error {
	if _, err := r.GetService(service); err != nil {
		return err
	}

	var best []*market.Bid
	for _, b := range r.bids {
		if b.Service == service && b.Provider != provider && b.IsActive() {
			best = append(best, b)
		}
	}
	slices.SortFunc(best, func(a, b *market.Bid) int {
		if c := cmp.Compare(a.UnitPrice, b.UnitPrice); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	ids := make([]string, len(best))
	for i, b := range best {
		ids[i] = b.ID
	}
	resp.Set("Bids", strings.Join(ids, ","))
	resp.Set("Count", strconv.Itoa(len(ids)))
	return nil
}

func (r *Registry) SendBid(id string, resp *protocol.Message) error {
	bid, ok := r.bids[id]
	if !ok {
		return bidNotFound()
	}
	resp.Set("Id", bid.ID)
	resp.Set("Provider", bid.Provider)
	resp.Set("Service", bid.Service)
	resp.Set("Status", bid.Status)
	resp.Set("Quantity", formatFloat(bid.Quantity))
	resp.Set("Unit_Price", formatFloat(bid.UnitPrice))
	if bid.ParentBid != "" {
		resp.Set("Parent_Bid", bid.ParentBid)
	}
	if bid.Period != 0 {
		resp.Set("Period", strconv.FormatUint(uint64(bid.Period), 10))
	}
	for _, name := range slices.Sorted(maps.Keys(bid.Attributes)) {
		resp.Set(name, bid.Attributes[name])
	}
	return nil
}

// SendProviderChannel reports where provider accepts connections.
func (r *Registry) SendProviderChannel(provider string, resp *protocol.Message) error {
	peer, ok := r.agents[provider]
	if !ok {
		return listenerNotFound()
	}
	l := r.listeners[peer]
	if l.Port == 0 {
		return listenerNotFound()
	}
	resp.Set("Address", peer.Addr().Unmap().String())
	resp.Set("Port", strconv.FormatUint(uint64(l.Port), 10))
	return nil
}

func (r *Registry) AddStagedData(peer market.PeerAddress, data []byte) error {
	f, ok := r.staged[peer]
	if !ok {
		return listenerNotFound()
	}
	_, err := f.Write(data)
	return err
}

func (r *Registry) GetMessage(peer market.PeerAddress) (*protocol.Message, bool, error) {
	f, ok := r.staged[peer]
	if !ok {
		return nil, false, listenerNotFound()
	}
	return f.Next()
}
