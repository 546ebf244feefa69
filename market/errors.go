package market

import (
	"fmt"
)

// Status codes returned in Status_Code.
const (
	CodeInvalidMethod     = 300
	CodeInvalidPort       = 301
	CodeListenerNotFound  = 303
	CodeInvalidPeriod     = 305
	CodeMissingParameters = 308
	CodeServiceNotFound   = 310
	CodeBidNotFound       = 311
	CodeInvalidBid        = 312
	CodeInvalidPurchase   = 313
	CodeProviderNotFound  = 314
	CodeInvalidQuantity   = 316
	CodeInternalError     = 500
)

// StatusError is a domain failure that can be reported to an agent.
type StatusError interface {
	error
	StatusCode() int
	StatusDescription() string
}

// FoundationError is a low level failure, such as an unresolvable resource
// or a malformed bid.
type FoundationError struct {
	Code        int
	Description string
}

func NewFoundationError(code int, description string) *FoundationError {
	return &FoundationError{Code: code, Description: description}
}

func (e *FoundationError) Error() string {
	return fmt.Sprintf("foundation error %d: %s", e.Code, e.Description)
}

func (e *FoundationError) StatusCode() int           { return e.Code }
func (e *FoundationError) StatusDescription() string { return e.Description }

// MarketplaceError is a marketplace level failure, such as an invalid
// parameter.
type MarketplaceError struct {
	Code        int
	Description string
}

func NewMarketplaceError(code int, description string) *MarketplaceError {
	return &MarketplaceError{Code: code, Description: description}
}

func (e *MarketplaceError) Error() string {
	return fmt.Sprintf("marketplace error %d: %s", e.Code, e.Description)
}

func (e *MarketplaceError) StatusCode() int           { return e.Code }
func (e *MarketplaceError) StatusDescription() string { return e.Description }
