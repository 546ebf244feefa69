package protocol

// Method is the request kind carried by the first token of a message.
type Method int8

const (
	Unknown = Method(iota)
	Connect
	SendPort
	StartPeriod
	EndPeriod
	ReceiveBid
	GetBestBids
	ReceivePurchase
	SendAvailability
	GetBid
	GetProviderChannel
	GetAvailability
	Disconnect
)

var methodStrings = [...]string{
	Unknown:            "unknown",
	Connect:            "connect",
	SendPort:           "send_port",
	StartPeriod:        "start_period",
	EndPeriod:          "end_period",
	ReceiveBid:         "receive_bid",
	GetBestBids:        "get_best_bids",
	ReceivePurchase:    "receive_purchase",
	SendAvailability:   "send_availability",
	GetBid:             "get_bid",
	GetProviderChannel: "get_provider_channel",
	GetAvailability:    "get_availability",
	Disconnect:         "disconnect",
}

var methodTokens = func() map[string]Method {
	m := make(map[string]Method, len(methodStrings))
	for i, s := range methodStrings {
		if Method(i) != Unknown {
			m[s] = Method(i)
		}
	}
	return m
}()

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodStrings) {
		return methodStrings[Unknown]
	}
	return methodStrings[m]
}

// ParseMethod maps a wire token to its Method. Unrecognised tokens map to
// Unknown.
func ParseMethod(token string) Method {
	return methodTokens[token]
}
