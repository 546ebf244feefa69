package market

import (
	"strconv"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/Godyy/go-market/protocol"
)

var log = logging.Logger("market")

// Dispatcher routes decoded requests to the Registry and builds responses.
type Dispatcher struct {
	registry        Registry
	terminator      Terminator
	finalizePeriods bool
}

type Option func(*Dispatcher)

// WithFinalizePeriod makes end_period call FinalizePeriodSession. Without it
// end_period only validates the period.
func WithFinalizePeriod(enable bool) Option {
	return func(d *Dispatcher) { d.finalizePeriods = enable }
}

// NewDispatcher returns a Dispatcher over registry. terminator is called for
// disconnect and may be nil.
func NewDispatcher(registry Registry, terminator Terminator, opts ...Option) *Dispatcher {
	if registry == nil {
		panic("nil registry")
	}
	d := &Dispatcher{registry: registry, terminator: terminator}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one request from peer. It never fails: domain errors are
// rendered as Status_Code and Status_Description on the response.
func (d *Dispatcher) Dispatch(peer PeerAddress, req *protocol.Message) *protocol.Message {
	resp := protocol.NewMessage(req.Method)
	log.Debugw("dispatch", "peer", peer, "method", req.Method)

	if err := d.handle(peer, req, resp); err != nil {
		var se StatusError
		if xerrors.As(err, &se) {
			resp.SetStatus(se.StatusCode(), se.StatusDescription())
		} else {
			log.Errorw("request failed", "peer", peer, "method", req.Method, "err", err)
			resp.SetStatus(CodeInternalError, "Internal Error")
		}
	}
	return resp
}

func (d *Dispatcher) handle(peer PeerAddress, req, resp *protocol.Message) error {
	switch req.Method {
	case protocol.Connect:
		return d.connect(peer, req, resp)
	case protocol.SendPort:
		return d.startListening(peer, req, resp)
	case protocol.StartPeriod:
		return d.initializePeriodSession(req)
	case protocol.EndPeriod:
		return d.finalizePeriodSession(req, resp)
	case protocol.ReceiveBid:
		return d.receiveBid(req, resp)
	case protocol.GetBestBids:
		return d.getBestBids(req, resp)
	case protocol.ReceivePurchase:
		return d.addPurchase(req, resp)
	case protocol.SendAvailability:
		return d.setProviderAvailability(req, resp)
	case protocol.GetBid:
		return d.registry.SendBid(req.Get("Bid"), resp)
	case protocol.GetProviderChannel:
		return d.registry.SendProviderChannel(req.Get("ProviderId"), resp)
	case protocol.GetAvailability:
		return d.registry.GetProviderAvailability(req.Get("Provider"), req.Get("Service"), req.Get("Bid"), resp)
	case protocol.Disconnect:
		log.Infow("terminating on disconnect request", "peer", peer)
		if d.terminator != nil {
			d.terminator.Terminate()
		}
		return nil
	default:
		return NewMarketplaceError(CodeInvalidMethod, "Invalid Method")
	}
}

func (d *Dispatcher) connect(peer PeerAddress, req, resp *protocol.Message) error {
	agent := req.Get("Agent")
	if agent == "" {
		return NewMarketplaceError(CodeMissingParameters, "Missing Parameters")
	}
	log.Debugw("connect", "agent", agent, "peer", peer)
	return d.registry.InsertListener(agent, peer, resp)
}

func (d *Dispatcher) startListening(peer PeerAddress, req, resp *protocol.Message) error {
	port, err := strconv.ParseUint(req.Get("Port"), 10, 16)
	if err != nil {
		return NewMarketplaceError(CodeInvalidPort, "Invalid Port")
	}

	listenerType := req.Get("Type")
	capacity := ParseCapacityType(listenerType, req.Get("CapacityType"))
	return d.registry.StartListening(peer, uint16(port), listenerType, capacity, resp)
}

func parsePeriod(req *protocol.Message) (uint32, error) {
	period, err := strconv.ParseUint(req.Get("Period"), 10, 32)
	if err != nil {
		return 0, NewMarketplaceError(CodeInvalidPeriod, "Invalid period")
	}
	return uint32(period), nil
}

func (d *Dispatcher) initializePeriodSession(req *protocol.Message) error {
	period, err := parsePeriod(req)
	if err != nil {
		return err
	}
	if err := d.registry.InitializePeriodSession(period); err != nil {
		return err
	}
	log.Infow("starting a new offering period", "period", period)
	return nil
}

func (d *Dispatcher) finalizePeriodSession(req, resp *protocol.Message) error {
	period, err := parsePeriod(req)
	if err != nil {
		return err
	}
	if !d.finalizePeriods {
		log.Debugw("end period ignored", "period", period)
		return nil
	}
	return d.registry.FinalizePeriodSession(period, resp)
}

func (d *Dispatcher) receiveBid(req, resp *protocol.Message) error {
	service, err := d.registry.GetService(req.Get("Service"))
	if err == nil {
		var bid *Bid
		if bid, err = NewBid(service, req); err == nil {
			if bid.IsActive() {
				err = d.registry.AddBid(bid, resp)
			} else {
				err = d.registry.DeleteBid(bid, resp)
			}
		}
	}
	return dropFoundation("receive bid", err)
}

func (d *Dispatcher) addPurchase(req, resp *protocol.Message) error {
	service, err := d.registry.GetService(req.Get("Service"))
	if err == nil {
		var purchase *Purchase
		if purchase, err = NewPurchase(service, req); err == nil {
			purchase.SetQuantityBacklog(0)
			err = d.registry.AddPurchase(purchase, resp)
		}
	}
	return dropFoundation("receive purchase", err)
}

// dropFoundation logs and swallows foundation errors. Bids and purchases that
// cannot be built are dropped without a status on the response.
func dropFoundation(op string, err error) error {
	var fe *FoundationError
	if xerrors.As(err, &fe) {
		log.Errorw(op+" dropped", "code", fe.Code, "err", fe.Description)
		return nil
	}
	return err
}

func (d *Dispatcher) setProviderAvailability(req, resp *protocol.Message) error {
	quantity, err := strconv.ParseFloat(req.Get("Quantity"), 64)
	if err != nil || !ValidQuantity(quantity) {
		return NewMarketplaceError(CodeInvalidQuantity, "Invalid quantity")
	}
	return d.registry.SetProviderAvailability(req.Get("Provider"), req.Get("Resource"), quantity, resp)
}

func (d *Dispatcher) getBestBids(req, resp *protocol.Message) error {
	provider, service := req.Get("Provider"), req.Get("Service")
	if provider == "" || service == "" {
		return NewMarketplaceError(CodeMissingParameters, "Missing Parameters")
	}
	return d.registry.GetBestBids(provider, service, resp)
}
