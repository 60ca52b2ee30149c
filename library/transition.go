package library

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for pickup and due dates.
const DateLayout = "2006-01-02"

// extensionDays is how far ExtendLoan moves a due date.
const extensionDays = 7

var (
	// ErrCartFull rejects an AddToCart when the cart already holds MaxCartSize items.
	ErrCartFull = errors.New("you cannot reserve more than 5 books at a time")

	// ErrItemUnavailable rejects an AddToCart for an item that is currently on loan.
	ErrItemUnavailable = errors.New("book is currently borrowed")
)

// Outcome classifies what a transition did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeRejected  Outcome = "rejected"
)

// Result is the outcome of applying one action.
// Construct it only through applied, unchanged and rejected.
type Result struct {
	Action  string
	State   State
	Outcome Outcome
	Err     error
}

func applied(a Action, next State) Result {
	next.Version++
	return Result{Action: a.ActionType(), State: next, Outcome: OutcomeApplied}
}

func unchanged(a Action, s State) Result {
	return Result{Action: a.ActionType(), State: s, Outcome: OutcomeUnchanged}
}

func rejected(a Action, s State, err error) Result {
	return Result{Action: a.ActionType(), State: s, Outcome: OutcomeRejected, Err: err}
}

// Changed reports whether the transition produced a new state.
func (r Result) Changed() bool { return r.Outcome == OutcomeApplied }

// Rejected reports whether the action broke a business rule.
func (r Result) Rejected() bool { return r.Outcome == OutcomeRejected }

// Transition applies an action to a state and returns the next state.
// It is pure: the input state is never modified, no I/O happens, and every input
// yields either a valid next state or the unchanged one.
//
// Business rules:
//
//	LoadCatalog: only into an empty catalog, with at least one item; status is rebuilt from the cart,
//	restored loans and history
//	AddToCart: no duplicates; at most 5 entries (rejected); borrowed items are rejected
//	RemoveFromCart / CancelReservation: absent ids are a no-op
//	Checkout: every cart item becomes Borrowed and is appended to history; cart is cleared
//	ExtendLoan: only a borrowed, not yet extended item; due date moves 7 days
//	AddToWishlist: no duplicates
func Transition(s State, a Action) Result {
	switch act := a.(type) {
	case LoadCatalog:
		return loadCatalog(s, act)
	case AddToCart:
		return addToCart(s, act)
	case RemoveFromCart:
		return removeFromCart(s, act, act.ID)
	case CancelReservation:
		return removeFromCart(s, act, act.ID)
	case Checkout:
		return checkout(s, act)
	case ExtendLoan:
		return extendLoan(s, act)
	case AddToWishlist:
		return addToWishlist(s, act)
	case SetLoading:
		if s.Loading == act.Loading {
			return unchanged(act, s)
		}
		next := s.clone()
		next.Loading = act.Loading
		return applied(act, next)
	case SetError:
		if s.Error == act.Message {
			return unchanged(act, s)
		}
		next := s.clone()
		next.Error = act.Message
		return applied(act, next)
	case ToggleTheme:
		next := s.clone()
		if s.DisplayPreference == ThemeDark {
			next.DisplayPreference = ThemeLight
		} else {
			next.DisplayPreference = ThemeDark
		}
		return applied(act, next)
	case nil:
		return Result{State: s, Outcome: OutcomeUnchanged}
	default:
		return unchanged(a, s)
	}
}

func loadCatalog(s State, a LoadCatalog) Result {
	if len(s.Catalog) > 0 || len(a.Items) == 0 {
		return unchanged(a, s)
	}

	next := s.clone()
	next.Catalog = cloneItems(a.Items)
	// The session owns circulation status: only its cart and loans make an item unavailable.
	for i := range next.Catalog {
		item := &next.Catalog[i]
		loan, onLoan := openLoan(s, item.ID)
		switch {
		case onLoan:
			item.Status = StatusBorrowed
			item.PickupDate = loan.PickupDate
			item.DueDate = loan.DueDate
			item.Duration = loan.Duration
			item.Extended = loan.Extended
		case next.InCart(item.ID):
			item.Status = StatusReserved
		default:
			item.Status = StatusAvailable
		}
	}

	var unclaimed []CatalogItem
	for _, loan := range s.loans {
		if indexOf(next.Catalog, loan.ID) < 0 {
			unclaimed = append(unclaimed, loan)
		}
	}
	next.loans = unclaimed
	return applied(a, next)
}

// openLoan finds the loan on id: the restored loan record when there is one,
// else the latest history entry. Borrowed items are never returned.
func openLoan(s State, id int64) (CatalogItem, bool) {
	if i := indexOf(s.loans, id); i >= 0 {
		return s.loans[i], true
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].ID == id {
			return s.History[i], true
		}
	}
	return CatalogItem{}, false
}

func addToCart(s State, a AddToCart) Result {
	if s.InCart(a.Item.ID) {
		return unchanged(a, s)
	}
	if len(s.Cart) >= MaxCartSize {
		return rejected(a, s, ErrCartFull)
	}
	if _, onLoan := openLoan(s, a.Item.ID); onLoan {
		return rejected(a, s, ErrItemUnavailable)
	}

	next := s.clone()
	entry := a.Item
	entry.Status = StatusReserved
	next.Cart = append(next.Cart, entry)
	if i := indexOf(next.Catalog, a.Item.ID); i >= 0 {
		next.Catalog[i].Status = StatusReserved
	}
	return applied(a, next)
}

func removeFromCart(s State, a Action, id int64) Result {
	i := indexOf(s.Cart, id)
	if i < 0 {
		return unchanged(a, s)
	}

	next := s.clone()
	next.Cart = append(next.Cart[:i], next.Cart[i+1:]...)
	if j := indexOf(next.Catalog, id); j >= 0 {
		next.Catalog[j].Status = StatusAvailable
	}
	return applied(a, next)
}

func checkout(s State, a Checkout) Result {
	if len(s.Cart) == 0 {
		return unchanged(a, s)
	}

	next := s.clone()
	for _, entry := range s.Cart {
		borrowed := entry
		if j := indexOf(next.Catalog, entry.ID); j >= 0 {
			borrowed = next.Catalog[j]
		}
		borrowed.Status = StatusBorrowed
		borrowed.PickupDate = a.PickupDate
		borrowed.DueDate = a.DueDate
		borrowed.Duration = a.Duration
		borrowed.Extended = false

		if j := indexOf(next.Catalog, entry.ID); j >= 0 {
			next.Catalog[j] = borrowed
		}
		next.History = append(next.History, borrowed)
	}

	total := s.TotalBorrowed() + len(s.Cart)
	next.User = &UserProfile{
		Name:          a.User.Name,
		Email:         a.User.Email,
		MemberID:      a.User.MemberID,
		TotalBorrowed: total,
	}
	next.Cart = []CatalogItem{}
	return applied(a, next)
}

func extendLoan(s State, a ExtendLoan) Result {
	i := indexOf(s.Catalog, a.ID)
	if i < 0 {
		return unchanged(a, s)
	}
	item := s.Catalog[i]
	if item.Status != StatusBorrowed || item.Extended {
		return unchanged(a, s)
	}
	due, err := ParseDate(item.DueDate)
	if err != nil {
		return unchanged(a, s)
	}

	next := s.clone()
	next.Catalog[i].DueDate = FormatDate(due.AddDate(0, 0, extensionDays))
	next.Catalog[i].Extended = true
	return applied(a, next)
}

func addToWishlist(s State, a AddToWishlist) Result {
	if s.InWishlist(a.Item.ID) {
		return unchanged(a, s)
	}
	next := s.clone()
	next.Wishlist = append(next.Wishlist, a.Item)
	return applied(a, next)
}

// ParseDate reads a calendar date, accepting a full RFC 3339 timestamp as well.
// The result is midnight UTC of that date.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(DateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
