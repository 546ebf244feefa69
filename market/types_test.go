package market

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

var testService = &Service{ID: "svc", Name: "transit", Resource: "bw"}

func requireFoundation(t *testing.T, err error, code int) {
	t.Helper()
	var fe *FoundationError
	require.True(t, xerrors.As(err, &fe), "want foundation error, got %v", err)
	require.Equal(t, code, fe.Code)
}

func TestNewBid(t *testing.T) {
	bid, err := NewBid(testService, request("receive_bid Id=b1 Provider=p1 Quantity=5 Unit_Price=0.5 Parent_Bid=b0 Period=3 Qos=gold"))
	require.NoError(t, err)
	require.Equal(t, &Bid{
		ID:         "b1",
		Provider:   "p1",
		Service:    "svc",
		Quantity:   5,
		UnitPrice:  0.5,
		Status:     BidActive,
		ParentBid:  "b0",
		Period:     3,
		Attributes: map[string]string{"Qos": "gold"},
	}, bid)

	bid, err = NewBid(testService, request("receive_bid Id=b1 Provider=p1 Status=Inactive"))
	require.NoError(t, err)
	require.False(t, bid.IsActive())
}

func TestNewBidInvalid(t *testing.T) {
	for _, line := range []string{
		"receive_bid Provider=p1 Quantity=1 Unit_Price=1",
		"receive_bid Id=b1 Quantity=1 Unit_Price=1",
		"receive_bid Id=b1 Provider=p1 Unit_Price=1",
		"receive_bid Id=b1 Provider=p1 Quantity=1",
		"receive_bid Id=b1 Provider=p1 Quantity=-1 Unit_Price=1",
		"receive_bid Id=b1 Provider=p1 Quantity=1 Unit_Price=1 Status=paused",
		"receive_bid Id=b1 Provider=p1 Quantity=1 Unit_Price=1 Period=soon",
	} {
		_, err := NewBid(testService, request(line))
		requireFoundation(t, err, CodeInvalidBid)
	}
}

func TestNewPurchase(t *testing.T) {
	purchase, err := NewPurchase(testService, request("receive_purchase Id=u1 Bid=b1 Quantity=2 Consumer=c1"))
	require.NoError(t, err)
	require.Equal(t, "u1", purchase.ID)
	require.Equal(t, "b1", purchase.Bid)
	require.Equal(t, "svc", purchase.Service)
	require.Equal(t, 2.0, purchase.Quantity)
	require.Equal(t, map[string]string{"Consumer": "c1"}, purchase.Attributes)

	purchase.SetQuantityBacklog(1.5)
	require.Equal(t, 1.5, purchase.QuantityBacklog)

	for _, line := range []string{
		"receive_purchase Bid=b1 Quantity=2",
		"receive_purchase Id=u1 Quantity=2",
		"receive_purchase Id=u1 Bid=b1",
		"receive_purchase Id=u1 Bid=b1 Quantity=x",
	} {
		_, err := NewPurchase(testService, request(line))
		requireFoundation(t, err, CodeInvalidPurchase)
	}
}

func TestStatusErrors(t *testing.T) {
	var se StatusError = NewMarketplaceError(CodeInvalidPort, "Invalid Port")
	require.Equal(t, 301, se.StatusCode())
	require.Equal(t, "Invalid Port", se.StatusDescription())
	require.EqualError(t, se, "marketplace error 301: Invalid Port")

	se = NewFoundationError(CodeBidNotFound, "Bid not found")
	require.EqualError(t, se, "foundation error 311: Bid not found")

	wrapped := xerrors.Errorf("lookup: %w", se)
	require.True(t, xerrors.As(wrapped, &se))
	require.Equal(t, CodeBidNotFound, se.StatusCode())
}
