package library

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// CategoryAll matches every category in searches and counts.
const CategoryAll = "All"

// DefaultLoanDuration is used when a checkout request leaves the duration unset.
const DefaultLoanDuration = 14

// LoanDurations are the loan lengths a borrower may choose, in days.
var LoanDurations = []int{7, 14, 21}

var (
	// ErrEmptyCart is returned by the facade when checkout is attempted with nothing reserved.
	ErrEmptyCart = errors.New("no books in reservation cart")

	// ErrNotInCatalog is returned when a book id does not exist.
	ErrNotInCatalog = errors.New("book not in catalog")
)

// ValidationError lists every problem found in a checkout request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid checkout: " + strings.Join(e.Problems, "; ")
}

// CheckoutRequest is the borrower form submitted at checkout.
type CheckoutRequest struct {
	Name       string
	Email      string
	MemberID   string
	PickupDate string
	Duration   int
}

// Validate checks the request against the checkout rules at time now.
func (r CheckoutRequest) Validate(now time.Time) error {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "Full name is required.")
	}
	if email := strings.TrimSpace(r.Email); email == "" || !strings.Contains(email, "@") {
		problems = append(problems, "A valid email is required.")
	}
	if strings.TrimSpace(r.MemberID) == "" {
		problems = append(problems, "Membership ID is required.")
	}
	if strings.TrimSpace(r.PickupDate) == "" {
		problems = append(problems, "Pickup date is required.")
	} else if pickup, err := ParseDate(r.PickupDate); err != nil {
		problems = append(problems, fmt.Sprintf("Pickup date %q is not a valid date.", r.PickupDate))
	} else if pickup.Before(now.Add(24 * time.Hour)) {
		problems = append(problems, "Pickup date must be at least 24 hours from today.")
	}
	if !validDuration(r.duration()) {
		problems = append(problems, fmt.Sprintf("Duration must be one of 7, 14 or 21 days, got %d.", r.Duration))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Action validates the request and builds the Checkout action for it.
// The due date is the pickup date plus the loan duration.
func (r CheckoutRequest) Action(now time.Time) (Checkout, error) {
	if err := r.Validate(now); err != nil {
		return Checkout{}, err
	}
	pickup, _ := ParseDate(r.PickupDate)
	duration := r.duration()
	return Checkout{
		PickupDate: FormatDate(pickup),
		DueDate:    FormatDate(pickup.AddDate(0, 0, duration)),
		Duration:   duration,
		User: Borrower{
			Name:     strings.TrimSpace(r.Name),
			Email:    strings.TrimSpace(r.Email),
			MemberID: strings.TrimSpace(r.MemberID),
		},
	}, nil
}

func (r CheckoutRequest) duration() int {
	if r.Duration == 0 {
		return DefaultLoanDuration
	}
	return r.Duration
}

func validDuration(days int) bool {
	for _, d := range LoanDurations {
		if d == days {
			return true
		}
	}
	return false
}

// NewReservationID returns a confirmation code of the form BN-123456.
func NewReservationID() string {
	return "BN-" + strconv.Itoa(100000+rand.Intn(900000)) //nolint:gosec // display code only
}

// CheckoutNotice is the confirmation sent to a borrower after checkout.
type CheckoutNotice struct {
	ReservationID string `json:"reservation_id"`
	ToName        string `json:"to_name"`
	ToEmail       string `json:"to_email"`
	PickupDate    string `json:"pickup_date"`
	DueDate       string `json:"due_date"`
	Duration      int    `json:"duration"`
	BookList      string `json:"book_list"`
}

// NewCheckoutNotice describes checkout c of items under reservationID.
func NewCheckoutNotice(reservationID string, c Checkout, items []CatalogItem) CheckoutNotice {
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title+" by "+item.Author)
	}
	return CheckoutNotice{
		ReservationID: reservationID,
		ToName:        c.User.Name,
		ToEmail:       c.User.Email,
		PickupDate:    c.PickupDate,
		DueDate:       c.DueDate,
		Duration:      c.Duration,
		BookList:      strings.Join(titles, ", "),
	}
}

// DaysLeft is the number of whole days from now until due, rounded up and never negative.
func DaysLeft(due string, now time.Time) (int, error) {
	d, err := ParseDate(due)
	if err != nil {
		return 0, err
	}
	remaining := d.Sub(now)
	if remaining <= 0 {
		return 0, nil
	}
	days := remaining / (24 * time.Hour)
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return int(days), nil
}
