package memory

import (
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/market"
	"github.com/Godyy/go-market/protocol"
)

var (
	peerA = netip.MustParseAddrPort("127.0.0.1:50001")
	peerB = netip.MustParseAddrPort("127.0.0.1:50002")
)

func newRegistry(opts ...Option) *Registry {
	return New([]*market.Service{
		{ID: "1", Name: "transit", Resource: "bw"},
		{ID: "2", Name: "storage", Resource: "disk"},
	}, opts...)
}

func resp() *protocol.Message { return protocol.NewMessage(protocol.Unknown) }

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var se market.StatusError
	require.True(t, xerrors.As(err, &se), "want status error, got %v", err)
	require.Equal(t, code, se.StatusCode())
}

func addBid(t *testing.T, r *Registry, id, provider, service string, quantity, price float64) *market.Bid {
	t.Helper()
	bid := &market.Bid{ID: id, Provider: provider, Service: service, Quantity: quantity, UnitPrice: price, Status: market.BidActive}
	require.NoError(t, r.AddBid(bid, resp()))
	return bid
}

func TestListeners(t *testing.T) {
	r := newRegistry()
	require.False(t, r.IsAlreadyListener(peerA))

	require.NoError(t, r.InsertListener("prov1", peerA, resp()))
	require.True(t, r.IsAlreadyListener(peerA))

	requireCode(t, r.StartListening(peerB, 9000, "provider", market.BulkCapacity, resp()), market.CodeListenerNotFound)
	require.NoError(t, r.StartListening(peerA, 9000, "provider", market.BulkCapacity, resp()))
	l, ok := r.Listener(peerA)
	require.True(t, ok)
	require.Equal(t, &market.Listener{Agent: "prov1", Peer: peerA, Port: 9000, Type: "provider", Capacity: market.BulkCapacity}, l)

	// reconnect on the same peer replaces the binding
	require.NoError(t, r.InsertListener("prov2", peerA, resp()))
	l, _ = r.Listener(peerA)
	require.Equal(t, "prov2", l.Agent)
	requireCode(t, r.SendProviderChannel("prov1", resp()), market.CodeListenerNotFound)

	require.NoError(t, r.DeleteListener(peerA, resp()))
	require.False(t, r.IsAlreadyListener(peerA))
	requireCode(t, r.DeleteListener(peerA, resp()), market.CodeListenerNotFound)
}

func TestAgentOnSeveralPeers(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.InsertListener("prov1", peerA, resp()))
	require.NoError(t, r.StartListening(peerA, 9000, "provider", market.BidByBid, resp()))
	require.NoError(t, r.InsertListener("prov1", peerB, resp()))

	// peerB going away leaves prov1 reachable through peerA
	require.NoError(t, r.DeleteListener(peerB, resp()))
	m := resp()
	require.NoError(t, r.SendProviderChannel("prov1", m))
	require.Equal(t, "9000", m.Get("Port"))

	require.NoError(t, r.DeleteListener(peerA, resp()))
	requireCode(t, r.SendProviderChannel("prov1", resp()), market.CodeListenerNotFound)
}

func TestSendProviderChannel(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.InsertListener("prov1", peerA, resp()))
	requireCode(t, r.SendProviderChannel("prov1", resp()), market.CodeListenerNotFound)

	require.NoError(t, r.StartListening(peerA, 9000, "provider", market.BidByBid, resp()))
	m := resp()
	require.NoError(t, r.SendProviderChannel("prov1", m))
	require.Equal(t, "127.0.0.1", m.Get("Address"))
	require.Equal(t, "9000", m.Get("Port"))
}

func TestGetService(t *testing.T) {
	r := newRegistry()
	s, err := r.GetService("2")
	require.NoError(t, err)
	require.Equal(t, "disk", s.Resource)

	_, err = r.GetService("9")
	var fe *market.FoundationError
	require.True(t, xerrors.As(err, &fe))
	require.Equal(t, market.CodeServiceNotFound, fe.Code)
}

func TestGetBestBids(t *testing.T) {
	r := newRegistry()
	addBid(t, r, "b1", "p1", "1", 10, 3)
	addBid(t, r, "b2", "p2", "1", 10, 1)
	addBid(t, r, "b3", "p3", "1", 10, 2)
	addBid(t, r, "b4", "p3", "2", 10, 0.5)
	addBid(t, r, "b5", "p4", "1", 10, 2)

	m := resp()
	require.NoError(t, r.GetBestBids("p1", "1", m))
	require.Equal(t, "b2,b3,b5", m.Get("Bids"))
	require.Equal(t, "3", m.Get("Count"))

	require.NoError(t, r.DeleteBid(&market.Bid{ID: "b2"}, resp()))
	m = resp()
	require.NoError(t, r.GetBestBids("p1", "1", m))
	require.Equal(t, "b3,b5", m.Get("Bids"))

	m = resp()
	require.NoError(t, r.GetBestBids("p3", "2", m))
	require.Equal(t, "", m.Get("Bids"))
	require.Equal(t, "0", m.Get("Count"))

	requireCode(t, r.GetBestBids("p1", "9", resp()), market.CodeServiceNotFound)
}

func TestAddPurchase(t *testing.T) {
	r := newRegistry()
	addBid(t, r, "b1", "p1", "1", 10, 1)

	m := resp()
	require.NoError(t, r.AddPurchase(&market.Purchase{ID: "u1", Bid: "b1", Service: "1", Quantity: 4}, m))
	require.Equal(t, "4", m.Get("Quantity_Purchased"))

	// the provider only has 5 left of its resource
	require.NoError(t, r.SetProviderAvailability("p1", "bw", 5, resp()))
	purchase := &market.Purchase{ID: "u2", Bid: "b1", Service: "1", Quantity: 8}
	m = resp()
	require.NoError(t, r.AddPurchase(purchase, m))
	require.Equal(t, "5", m.Get("Quantity_Purchased"))
	require.Equal(t, 3.0, purchase.QuantityBacklog)

	bid, _ := r.Bid("b1")
	require.Equal(t, 1.0, bid.Quantity)

	requireCode(t, r.AddPurchase(&market.Purchase{ID: "u3", Bid: "nope", Service: "1", Quantity: 1}, resp()), market.CodeBidNotFound)
	requireCode(t, r.AddPurchase(&market.Purchase{ID: "u3", Bid: "b1", Service: "2", Quantity: 1}, resp()), market.CodeBidNotFound)
}

func TestAvailabilityRejectsInvalidQuantity(t *testing.T) {
	r := newRegistry()
	for _, q := range []float64{-5, math.NaN(), math.Inf(1)} {
		requireCode(t, r.SetProviderAvailability("p1", "bw", q, resp()), market.CodeInvalidQuantity)
	}
	requireCode(t, r.GetProviderAvailability("p1", "1", "", resp()), market.CodeProviderNotFound)
}

func TestAddPurchaseNeverServesNegative(t *testing.T) {
	r := newRegistry()
	addBid(t, r, "b1", "p1", "1", 10, 1)
	require.NoError(t, r.SetProviderAvailability("p1", "bw", 0, resp()))

	purchase := &market.Purchase{ID: "u1", Bid: "b1", Service: "1", Quantity: 3}
	m := resp()
	require.NoError(t, r.AddPurchase(purchase, m))
	require.Equal(t, "0", m.Get("Quantity_Purchased"))
	require.Equal(t, 3.0, purchase.QuantityBacklog)

	purchase = &market.Purchase{ID: "u2", Bid: "b1", Service: "1", Quantity: math.NaN()}
	m = resp()
	require.NoError(t, r.AddPurchase(purchase, m))
	require.Equal(t, "0", m.Get("Quantity_Purchased"))

	bid, _ := r.Bid("b1")
	require.Equal(t, 10.0, bid.Quantity)
	q := resp()
	require.NoError(t, r.GetProviderAvailability("p1", "1", "", q))
	require.Equal(t, "0", q.Get("Quantity"))
}

func TestProviderAvailability(t *testing.T) {
	r := newRegistry()
	requireCode(t, r.GetProviderAvailability("p1", "1", "", resp()), market.CodeProviderNotFound)
	requireCode(t, r.SetProviderAvailability("", "bw", 1, resp()), market.CodeMissingParameters)

	require.NoError(t, r.SetProviderAvailability("p1", "bw", 12.5, resp()))
	m := resp()
	require.NoError(t, r.GetProviderAvailability("p1", "1", "", m))
	require.Equal(t, "p1", m.Get("Provider"))
	require.Equal(t, "bw", m.Get("Resource"))
	require.Equal(t, "12.5", m.Get("Quantity"))

	addBid(t, r, "b1", "p1", "1", 4, 1)
	m = resp()
	require.NoError(t, r.GetProviderAvailability("p1", "1", "b1", m))
	require.Equal(t, "4", m.Get("Quantity"))

	requireCode(t, r.GetProviderAvailability("p1", "1", "b9", resp()), market.CodeBidNotFound)
	requireCode(t, r.GetProviderAvailability("p1", "7", "", resp()), market.CodeServiceNotFound)
}

func TestPeriods(t *testing.T) {
	r := newRegistry()
	requireCode(t, r.FinalizePeriodSession(1, resp()), market.CodeInvalidPeriod)

	addBid(t, r, "standing", "p1", "1", 10, 1)
	require.NoError(t, r.InitializePeriodSession(1))
	addBid(t, r, "b1", "p1", "1", 10, 1)
	require.NoError(t, r.AddPurchase(&market.Purchase{ID: "u1", Bid: "b1", Service: "1", Quantity: 1}, resp()))

	bid, _ := r.Bid("b1")
	require.Equal(t, uint32(1), bid.Period)

	requireCode(t, r.FinalizePeriodSession(2, resp()), market.CodeInvalidPeriod)

	m := resp()
	require.NoError(t, r.FinalizePeriodSession(1, m))
	require.Equal(t, "1", m.Get("Bids"))
	require.Equal(t, "1", m.Get("Purchases"))

	_, ok := r.Bid("b1")
	require.False(t, ok)
	_, ok = r.Bid("standing")
	require.True(t, ok)

	_, active := r.CurrentPeriod()
	require.False(t, active)
	requireCode(t, r.FinalizePeriodSession(1, resp()), market.CodeInvalidPeriod)
}

func TestSendBid(t *testing.T) {
	r := newRegistry()
	bid := addBid(t, r, "b1", "p1", "1", 2, 0.25)
	bid.ParentBid = "b0"
	bid.Attributes = map[string]string{"Quality": "gold", "Delay": "3"}

	m := resp()
	require.NoError(t, r.SendBid("b1", m))
	require.Equal(t,
		"unknown Id=b1 Provider=p1 Service=1 Status=active Quantity=2 Unit_Price=0.25 Parent_Bid=b0 Delay=3 Quality=gold",
		m.String())

	requireCode(t, r.SendBid("b2", resp()), market.CodeBidNotFound)
}

func TestStagedData(t *testing.T) {
	r := newRegistry(WithMaxMessageSize(64))
	requireCode(t, r.AddStagedData(peerA, []byte("x")), market.CodeListenerNotFound)
	_, _, err := r.GetMessage(peerA)
	requireCode(t, err, market.CodeListenerNotFound)

	require.NoError(t, r.InsertListener("prov1", peerA, resp()))
	require.NoError(t, r.AddStagedData(peerA, []byte("get_bid Bid=b1\nget_bid Bi")))

	msg, ok, err := r.GetMessage(peerA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, protocol.GetBid, msg.Method)
	require.Equal(t, "b1", msg.Get("Bid"))

	_, ok, err = r.GetMessage(peerA)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.AddStagedData(peerA, []byte("d=b2\n")))
	msg, ok, err = r.GetMessage(peerA)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b2", msg.Get("Bid"))
}
