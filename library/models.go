package library

// Status is the circulation status of a catalog item.
type Status string

const (
	StatusAvailable Status = "Available"
	StatusReserved  Status = "Reserved"
	StatusBorrowed  Status = "Borrowed"
)

// MaxCartSize is the number of items a reservation cart can hold.
const MaxCartSize = 5

// Display preferences persisted alongside the circulation state.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// CatalogItem represents one library holding and its circulation status.
// The loan fields are only meaningful while the item is Reserved or Borrowed.
type CatalogItem struct {
	ID          int64   `json:"id" db:"id"`
	Title       string  `json:"title" db:"title"`
	Author      string  `json:"author" db:"author"`
	Category    string  `json:"category" db:"category"`
	Rating      float64 `json:"rating" db:"rating"`
	Status      Status  `json:"status" db:"status"`
	Copies      int     `json:"copies" db:"copies"`
	ISBN        string  `json:"isbn" db:"isbn"`
	Publisher   string  `json:"publisher" db:"publisher"`
	Year        int     `json:"year" db:"year"`
	Pages       int     `json:"pages" db:"pages"`
	Description string  `json:"description" db:"description"`
	Cover       string  `json:"cover" db:"cover"`
	Featured    bool    `json:"featured,omitempty" db:"featured"`

	PickupDate string `json:"pickupDate,omitempty" db:"-"`
	DueDate    string `json:"dueDate,omitempty" db:"-"`
	Duration   int    `json:"duration,omitempty" db:"-"`
	Extended   bool   `json:"extended,omitempty" db:"-"`
}

// UserProfile is the borrower captured by the last completed checkout.
type UserProfile struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	MemberID      string `json:"memberId"`
	TotalBorrowed int    `json:"totalBorrowed"`
}

// Borrower holds the fields a checkout merges into the UserProfile.
type Borrower struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	MemberID string `json:"memberId"`
}

// Review is a reader review kept by the catalog backend.
type Review struct {
	ID      int64  `json:"id" db:"id"`
	BookID  int64  `json:"bookId" db:"book_id"`
	User    string `json:"user" db:"user"`
	Rating  int    `json:"rating" db:"rating"`
	Comment string `json:"comment" db:"comment"`
}
