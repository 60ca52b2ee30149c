package library

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownAction is returned by DecodeAction for a type it does not recognise.
var ErrUnknownAction = errors.New("unknown action type")

// Wire names of the actions.
const (
	ActionLoadCatalog       = "LoadCatalog"
	ActionAddToCart         = "AddToCart"
	ActionRemoveFromCart    = "RemoveFromCart"
	ActionCancelReservation = "CancelReservation"
	ActionCheckout          = "Checkout"
	ActionExtendLoan        = "ExtendLoan"
	ActionAddToWishlist     = "AddToWishlist"
	ActionSetLoading        = "SetLoading"
	ActionSetError          = "SetError"
	ActionToggleTheme       = "ToggleTheme"
)

// Action is a request to change the circulation state.
// The set of actions is closed: only the types in this file implement it.
type Action interface {
	ActionType() string
	action()
}

// LoadCatalog installs the catalog snapshot fetched from the catalog source.
type LoadCatalog struct {
	Items []CatalogItem `json:"items"`
}

// AddToCart reserves an item by placing it in the cart.
type AddToCart struct {
	Item CatalogItem `json:"item"`
}

// RemoveFromCart drops an item from the cart and makes it available again.
type RemoveFromCart struct {
	ID int64 `json:"id"`
}

// CancelReservation behaves exactly like RemoveFromCart.
type CancelReservation struct {
	ID int64 `json:"id"`
}

// Checkout converts every item in the cart into a loan.
type Checkout struct {
	PickupDate string   `json:"pickupDate"`
	DueDate    string   `json:"dueDate"`
	Duration   int      `json:"duration"`
	User       Borrower `json:"user"`
}

// ExtendLoan pushes a loan's due date out by one week, once.
type ExtendLoan struct {
	ID int64 `json:"id"`
}

// AddToWishlist remembers an item for later.
type AddToWishlist struct {
	Item CatalogItem `json:"item"`
}

// SetLoading toggles the catalog loading indicator.
type SetLoading struct {
	Loading bool `json:"loading"`
}

// SetError sets or clears the user-visible error message.
type SetError struct {
	Message string `json:"message"`
}

// ToggleTheme flips the display preference between light and dark.
type ToggleTheme struct{}

func (LoadCatalog) ActionType() string       { return ActionLoadCatalog }
func (AddToCart) ActionType() string         { return ActionAddToCart }
func (RemoveFromCart) ActionType() string    { return ActionRemoveFromCart }
func (CancelReservation) ActionType() string { return ActionCancelReservation }
func (Checkout) ActionType() string          { return ActionCheckout }
func (ExtendLoan) ActionType() string        { return ActionExtendLoan }
func (AddToWishlist) ActionType() string     { return ActionAddToWishlist }
func (SetLoading) ActionType() string        { return ActionSetLoading }
func (SetError) ActionType() string          { return ActionSetError }
func (ToggleTheme) ActionType() string       { return ActionToggleTheme }

func (LoadCatalog) action()       {}
func (AddToCart) action()         {}
func (RemoveFromCart) action()    {}
func (CancelReservation) action() {}
func (Checkout) action()          {}
func (ExtendLoan) action()        {}
func (AddToWishlist) action()     {}
func (SetLoading) action()        {}
func (SetError) action()          {}
func (ToggleTheme) action()       {}

type envelope struct {
	Type    string              `json:"type"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// EncodeAction renders an action as {"type": ..., "payload": ...}.
func EncodeAction(a Action) ([]byte, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", a.ActionType(), err)
	}
	return json.Marshal(envelope{Type: a.ActionType(), Payload: payload})
}

// DecodeAction parses the {"type", "payload"} wire shape into an Action.
//
// Payloads are accepted either as the action object or, for the id-only and
// item-only actions, as the bare id / item the way the web client sends them.
func DecodeAction(data []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	switch env.Type {
	case ActionLoadCatalog:
		var items []CatalogItem
		if err := json.Unmarshal(env.Payload, &items); err == nil {
			return LoadCatalog{Items: items}, nil
		}
		var a LoadCatalog
		return a, decodePayload(env, &a)
	case ActionAddToCart:
		item, err := decodeItem(env)
		return AddToCart{Item: item}, err
	case ActionAddToWishlist:
		item, err := decodeItem(env)
		return AddToWishlist{Item: item}, err
	case ActionRemoveFromCart:
		id, err := decodeID(env)
		return RemoveFromCart{ID: id}, err
	case ActionCancelReservation:
		id, err := decodeID(env)
		return CancelReservation{ID: id}, err
	case ActionExtendLoan:
		id, err := decodeID(env)
		return ExtendLoan{ID: id}, err
	case ActionCheckout:
		return decodeCheckout(env)
	case ActionSetLoading:
		var loading bool
		if err := json.Unmarshal(env.Payload, &loading); err == nil {
			return SetLoading{Loading: loading}, nil
		}
		var a SetLoading
		return a, decodePayload(env, &a)
	case ActionSetError:
		var msg *string
		if err := json.Unmarshal(env.Payload, &msg); err == nil {
			if msg == nil {
				return SetError{}, nil
			}
			return SetError{Message: *msg}, nil
		}
		var a SetError
		return a, decodePayload(env, &a)
	case ActionToggleTheme:
		return ToggleTheme{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
}

func decodePayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("decode %s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

// decodeCheckout accepts the duration as a number or a numeric string.
func decodeCheckout(env envelope) (Checkout, error) {
	var wire struct {
		PickupDate string              `json:"pickupDate"`
		DueDate    string              `json:"dueDate"`
		Duration   jsoniter.RawMessage `json:"duration"`
		User       Borrower            `json:"user"`
	}
	if err := decodePayload(env, &wire); err != nil {
		return Checkout{}, err
	}
	a := Checkout{PickupDate: wire.PickupDate, DueDate: wire.DueDate, User: wire.User}
	if len(wire.Duration) == 0 || string(wire.Duration) == "null" {
		return a, nil
	}
	if err := json.Unmarshal(wire.Duration, &a.Duration); err == nil {
		return a, nil
	}
	var text string
	if err := json.Unmarshal(wire.Duration, &text); err != nil {
		return Checkout{}, fmt.Errorf("decode %s duration: %w", env.Type, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return Checkout{}, fmt.Errorf("decode %s duration: %w", env.Type, err)
	}
	a.Duration = n
	return a, nil
}

func decodeID(env envelope) (int64, error) {
	var id int64
	if err := json.Unmarshal(env.Payload, &id); err == nil {
		return id, nil
	}
	var wrapped struct {
		ID int64 `json:"id"`
	}
	err := decodePayload(env, &wrapped)
	return wrapped.ID, err
}

func decodeItem(env envelope) (CatalogItem, error) {
	var wrapped struct {
		Item *CatalogItem `json:"item"`
	}
	if err := json.Unmarshal(env.Payload, &wrapped); err == nil && wrapped.Item != nil {
		return *wrapped.Item, nil
	}
	var item CatalogItem
	err := decodePayload(env, &item)
	return item, err
}
