package library

import (
	"errors"
	"fmt"
)

// State is an immutable snapshot of everything the circulation core tracks.
// Transitions never mutate a State in place; they return a new one.
type State struct {
	Version uint64 `json:"version"`

	Catalog  []CatalogItem `json:"catalog"`
	Cart     []CatalogItem `json:"cart"`
	Wishlist []CatalogItem `json:"wishlist"`
	History  []CatalogItem `json:"history"`
	User     *UserProfile  `json:"user"`

	DisplayPreference string `json:"displayPreference"`
	Loading           bool   `json:"loading"`
	Error             string `json:"error,omitempty"`

	// loans restored from storage and not yet matched to a catalog item.
	loans []CatalogItem
}

// EmptyState returns the state of a fresh session.
func EmptyState() State {
	return State{
		Catalog:           []CatalogItem{},
		Cart:              []CatalogItem{},
		Wishlist:          []CatalogItem{},
		History:           []CatalogItem{},
		DisplayPreference: ThemeLight,
	}
}

// CatalogItem returns the catalog record with the given id.
func (s State) CatalogItem(id int64) (CatalogItem, bool) {
	if i := indexOf(s.Catalog, id); i >= 0 {
		return s.Catalog[i], true
	}
	return CatalogItem{}, false
}

// InCart reports whether the item is in the reservation cart.
func (s State) InCart(id int64) bool { return indexOf(s.Cart, id) >= 0 }

// InWishlist reports whether the item is on the wishlist.
func (s State) InWishlist(id int64) bool { return indexOf(s.Wishlist, id) >= 0 }

// Borrowed returns the catalog items currently on loan, in catalog order.
func (s State) Borrowed() []CatalogItem {
	out := make([]CatalogItem, 0)
	for _, item := range s.Catalog {
		if item.Status == StatusBorrowed {
			out = append(out, item)
		}
	}
	return out
}

// Loans returns every open loan: the borrowed catalog items followed by restored
// loans that no loaded catalog item has claimed yet.
func (s State) Loans() []CatalogItem {
	out := s.Borrowed()
	for _, loan := range s.loans {
		if indexOf(out, loan.ID) < 0 {
			out = append(out, loan)
		}
	}
	return out
}

// TotalBorrowed is the lifetime counter, zero before the first checkout.
func (s State) TotalBorrowed() int {
	if s.User == nil {
		return 0
	}
	return s.User.TotalBorrowed
}

// Validate checks the circulation invariants and reports every violation found.
func (s State) Validate() error {
	var errs []error

	if len(s.Cart) > MaxCartSize {
		errs = append(errs, fmt.Errorf("cart holds %d items, limit is %d", len(s.Cart), MaxCartSize))
	}

	seen := make(map[int64]bool, len(s.Cart))
	for _, item := range s.Cart {
		if seen[item.ID] {
			errs = append(errs, fmt.Errorf("item %d is in the cart twice", item.ID))
		}
		seen[item.ID] = true
	}

	borrowedOnce := make(map[int64]bool, len(s.History))
	for _, item := range s.History {
		borrowedOnce[item.ID] = true
	}

	for _, item := range s.Catalog {
		reserved := item.Status == StatusReserved
		if reserved != seen[item.ID] {
			errs = append(errs, fmt.Errorf("item %d has status %s but cart membership is %t", item.ID, item.Status, seen[item.ID]))
		}
		borrowed := item.Status == StatusBorrowed
		if borrowed && !borrowedOnce[item.ID] {
			errs = append(errs, fmt.Errorf("item %d is borrowed but has no history entry", item.ID))
		}
		// Loans are never returned, so a history entry means the item is still out.
		if borrowedOnce[item.ID] && !borrowed {
			errs = append(errs, fmt.Errorf("item %d is in the borrow history but has status %s", item.ID, item.Status))
		}
	}

	if s.User != nil && s.User.TotalBorrowed < len(s.History) {
		errs = append(errs, fmt.Errorf("total borrowed %d is below history length %d", s.User.TotalBorrowed, len(s.History)))
	}

	return errors.Join(errs...)
}

func indexOf(items []CatalogItem, id int64) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func cloneItems(items []CatalogItem) []CatalogItem {
	if items == nil {
		return nil
	}
	out := make([]CatalogItem, len(items))
	copy(out, items)
	return out
}

// clone returns a deep enough copy for a transition to modify freely.
func (s State) clone() State {
	next := s
	next.Catalog = cloneItems(s.Catalog)
	next.Cart = cloneItems(s.Cart)
	next.Wishlist = cloneItems(s.Wishlist)
	next.History = cloneItems(s.History)
	next.loans = cloneItems(s.loans)
	if s.User != nil {
		u := *s.User
		next.User = &u
	}
	return next
}
