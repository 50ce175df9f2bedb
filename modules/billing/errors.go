package billing

import (
	"errors"

	"github.com/promptr-app/promptr/handler"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
	"github.com/promptr-app/promptr/svc/optimizer"
)

var (
	errMissingSessionID = handler.ErrBadRequest.WithMessage("missing session_id")
	errMissingLookupKey = handler.ErrBadRequest.WithMessage("missing lookup_key")
)

// classify maps domain errors to HTTP errors. Internal failures fall
// through to the handler's generic 500.
func classify(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, svcbilling.ErrAuthenticationRequired):
		return handler.ErrUnauthorized.WithMessage("authentication required"), true
	case errors.Is(err, svcbilling.ErrQuotaExhausted):
		return handler.HTTPError{
			Code:    handler.ErrForbidden.Code,
			Key:     "quota_exhausted",
			Message: "No remaining free optimized prompts. Please subscribe to a paid plan.",
		}.WithField("remaining", 0), true
	case errors.Is(err, svcbilling.ErrUserNotFound):
		return handler.ErrNotFound.WithMessage("user not found"), true
	case errors.Is(err, svcbilling.ErrNoBillingCustomer):
		return handler.HTTPError{Code: handler.ErrBadRequest.Code, Key: "no_billing_customer", Message: "no billing customer for this account"}, true
	case errors.Is(err, svcbilling.ErrInvalidSession):
		return handler.HTTPError{Code: handler.ErrBadRequest.Code, Key: "invalid_session", Message: "invalid checkout session"}, true
	case errors.Is(err, svcbilling.ErrPriceNotFound):
		return handler.HTTPError{Code: handler.ErrBadRequest.Code, Key: "price_not_found", Message: "unknown price lookup key"}, true
	case errors.Is(err, optimizer.ErrEmptyPrompt):
		return handler.ErrBadRequest.WithMessage("prompt is required"), true
	case errors.Is(err, optimizer.ErrUpstream):
		return handler.ErrBadGateway.WithMessage("prompt optimization is unavailable"), true
	case errors.Is(err, svcbilling.ErrUpstreamProvider):
		return handler.ErrBadGateway.WithMessage("billing provider is unavailable"), true
	}
	return handler.HTTPError{}, false
}
