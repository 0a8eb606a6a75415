// Package validate runs the pre-trade checks a NewOrderSingle must pass
// before it ever reaches the order book: symbol whitelist, positive
// quantity, a positive price for limit orders, and per-session ClOrdID
// uniqueness. Struct-tag validation is composed with hand-written
// predicates the same way the teacher's internal/validation package layers
// custom validator.v10 tags on top of its generic Validate/ValidateVar.
package validate

import (
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"

	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"
	"github.com/abdoElHodaky/fixsim/pkg/tradserr"
)

// NewOrderRequest is the DTO a decoded NewOrderSingle is mapped into before
// it is handed to the order book. Struct tags drive the v10 pass; the
// ClOrdID uniqueness check is stateful and runs separately in Validate.
type NewOrderRequest struct {
	ClOrdID string          `validate:"required"`
	Symbol  string          `validate:"required,symbol"`
	Side    fixtypes.Side   `validate:"required"`
	OrdType fixtypes.OrdType `validate:"required"`
	Qty     int64           `validate:"posqty"`
	Price   float64         `validate:"posprice"`
}

// Validator composes the struct-tag pass with the per-session ClOrdID
// index. A single Validator is safe for concurrent use across sessions;
// the ClOrdID index is partitioned per session internally.
type Validator struct {
	v *validator.Validate

	mu      sync.Mutex
	clOrdID map[string]map[string]bool // sessionID -> ClOrdID -> seen
}

// New builds a Validator with the symbol, posqty and posprice tags
// registered.
func New() *Validator {
	v := validator.New()
	v.RegisterValidation("symbol", validateSymbol)
	v.RegisterValidation("posqty", validatePositiveQty)
	v.RegisterValidation("posprice", validatePositivePrice)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.ToLower(fld.Name)
	})
	return &Validator{v: v, clOrdID: make(map[string]map[string]bool)}
}

// Validate runs the struct-tag pass plus the business rules struct tags
// cannot express: Price is only required when OrdType is Limit, and
// ClOrdID must not have been seen before on this session.
func (val *Validator) Validate(sessionID string, req NewOrderRequest) error {
	if err := val.v.Struct(req); err != nil {
		return mapFieldError(err)
	}
	if req.OrdType == fixtypes.OrdTypeLimit && req.Price <= 0 {
		return tradserr.New(tradserr.ErrInvalidPrice, "price required for limit order").
			WithDetail("cl_ord_id", req.ClOrdID)
	}
	if val.seen(sessionID, req.ClOrdID) {
		return tradserr.New(tradserr.ErrDuplicateClOrdID, "duplicate ClOrdID for session").
			WithDetail("session_id", sessionID).WithDetail("cl_ord_id", req.ClOrdID)
	}
	return nil
}

// seen records req's ClOrdID against the session and reports whether it had
// already been used.
func (val *Validator) seen(sessionID, clOrdID string) bool {
	val.mu.Lock()
	defer val.mu.Unlock()
	index, ok := val.clOrdID[sessionID]
	if !ok {
		index = make(map[string]bool)
		val.clOrdID[sessionID] = index
	}
	if index[clOrdID] {
		return true
	}
	index[clOrdID] = true
	return false
}

// Forget drops a session's ClOrdID index, e.g. on Logout.
func (val *Validator) Forget(sessionID string) {
	val.mu.Lock()
	defer val.mu.Unlock()
	delete(val.clOrdID, sessionID)
}

func mapFieldError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return tradserr.Wrap(err, tradserr.ErrMissingField, "validation failed")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "symbol":
		return tradserr.New(tradserr.ErrInvalidSymbol, "symbol not in tradeable whitelist").
			WithDetail("field", fe.Field())
	case "posqty":
		return tradserr.New(tradserr.ErrInvalidQuantity, "quantity must be positive").
			WithDetail("field", fe.Field())
	case "posprice":
		return tradserr.New(tradserr.ErrInvalidPrice, "price must be positive").
			WithDetail("field", fe.Field())
	default:
		return tradserr.New(tradserr.ErrMissingField, "required field missing").
			WithDetail("field", fe.Field())
	}
}

func validateSymbol(fl validator.FieldLevel) bool {
	return fixtypes.Whitelist[fl.Field().String()]
}

func validatePositiveQty(fl validator.FieldLevel) bool {
	return fl.Field().Int() > 0
}

func validatePositivePrice(fl validator.FieldLevel) bool {
	// Limit-order price presence is enforced separately; here we only
	// reject a negative value when one is supplied.
	return fl.Field().Float() >= 0
}
