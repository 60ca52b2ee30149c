package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// LibraryManager is a thin façade over the Database and the circulation Dispatcher,
// keeping CLI code simple.
type LibraryManager struct {
	db         *Database
	store      RecordStore
	persist    *PersistenceSync
	dispatcher *Dispatcher
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
	closers    []io.Closer
}

type managerOptions struct {
	store    RecordStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	syncOpts []SyncOption
	closers  []io.Closer
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*managerOptions)

// WithRecordStore persists circulation state to store instead of the SQLite database.
// A store that is an io.Closer is closed with the manager.
func WithRecordStore(store RecordStore) ManagerOption {
	return func(o *managerOptions) {
		o.store = store
		if c, ok := store.(io.Closer); ok {
			o.closers = append(o.closers, c)
		}
	}
}

// WithNotifier sets where checkout confirmations go. The default logs them.
// A notifier that is an io.Closer is closed with the manager.
func WithNotifier(n Notifier) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = n
		if c, ok := n.(io.Closer); ok {
			o.closers = append(o.closers, c)
		}
	}
}

// WithLogger sets the logger shared by the manager's components.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithClock overrides the time source used for checkout validation.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.now = now }
}

// WithSyncOptions passes options to the persistence sync.
func WithSyncOptions(opts ...SyncOption) ManagerOption {
	return func(o *managerOptions) { o.syncOpts = append(o.syncOpts, opts...) }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath and restores the
// circulation state persisted by a previous session.
func NewLibraryManager(dbPath string, opts ...ManagerOption) (*LibraryManager, error) {
	o := managerOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	if o.store == nil {
		o.store = db
	}
	if o.notifier == nil {
		o.notifier = NewLogNotifier(o.logger)
	}

	syncOpts := append([]SyncOption{WithSyncLogger(o.logger)}, o.syncOpts...)
	persist, err := NewPersistenceSync(o.store, syncOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	restored, err := persist.Restore(context.Background())
	if err != nil {
		persist.Close(context.Background())
		db.Close()
		return nil, fmt.Errorf("restore state: %w", err)
	}

	return &LibraryManager{
		db:         db,
		store:      o.store,
		persist:    persist,
		dispatcher: NewDispatcher(restored, persist, WithDispatcherLogger(o.logger)),
		notifier:   o.notifier,
		logger:     o.logger,
		now:        o.now,
		closers:    o.closers,
	}, nil
}

// Close writes pending state and closes the underlying database.
func (lm *LibraryManager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := lm.persist.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close persistence: %w", err))
	}
	for _, c := range lm.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := lm.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Flush waits until every state change so far has been persisted.
func (lm *LibraryManager) Flush(ctx context.Context) error { return lm.persist.Flush(ctx) }

// PersistFailures is the number of record writes that could not be saved.
func (lm *LibraryManager) PersistFailures() int64 { return lm.persist.Failures() }

// ------------------ Circulation ------------------

// State returns the current circulation snapshot.
func (lm *LibraryManager) State() State { return lm.dispatcher.State() }

// Subscribe registers fn to observe every committed transition.
func (lm *LibraryManager) Subscribe(fn func(Result)) { lm.dispatcher.Subscribe(fn) }

// Dispatch applies an action directly.
func (lm *LibraryManager) Dispatch(ctx context.Context, a Action) Result {
	return lm.dispatcher.Dispatch(ctx, a)
}

// DispatchJSON applies a {"type", "payload"} encoded action.
func (lm *LibraryManager) DispatchJSON(ctx context.Context, data []byte) (Result, error) {
	return lm.dispatcher.DispatchJSON(ctx, data)
}

// LoadCatalog fetches the catalog from the database into the circulation state.
// A catalog that is already loaded is left as is.
func (lm *LibraryManager) LoadCatalog(ctx context.Context) error {
	lm.dispatcher.Dispatch(ctx, SetLoading{Loading: true})
	defer lm.dispatcher.Dispatch(ctx, SetLoading{Loading: false})

	items, err := lm.db.CatalogItems(ctx)
	if err != nil {
		lm.dispatcher.Dispatch(ctx, SetError{Message: "Failed to load catalog"})
		return fmt.Errorf("load catalog: %w", err)
	}
	lm.dispatcher.Dispatch(ctx, SetError{})
	lm.dispatcher.Dispatch(ctx, LoadCatalog{Items: items})
	return nil
}

func (lm *LibraryManager) catalogItem(id int64) (CatalogItem, error) {
	item, ok := lm.State().CatalogItem(id)
	if !ok {
		return CatalogItem{}, fmt.Errorf("book %d: %w", id, ErrNotInCatalog)
	}
	return item, nil
}

// Reserve puts a catalog book into the reservation cart.
func (lm *LibraryManager) Reserve(ctx context.Context, bookID int64) (Result, error) {
	item, err := lm.catalogItem(bookID)
	if err != nil {
		return Result{}, err
	}
	res := lm.dispatcher.Dispatch(ctx, AddToCart{Item: item})
	if res.Rejected() {
		return res, res.Err
	}
	return res, nil
}

// RemoveFromCart drops a book from the cart. Absent ids are ignored.
func (lm *LibraryManager) RemoveFromCart(ctx context.Context, bookID int64) Result {
	return lm.dispatcher.Dispatch(ctx, RemoveFromCart{ID: bookID})
}

// CancelReservation is RemoveFromCart as offered from the dashboard.
func (lm *LibraryManager) CancelReservation(ctx context.Context, bookID int64) Result {
	return lm.dispatcher.Dispatch(ctx, CancelReservation{ID: bookID})
}

// AddToWishlist saves a catalog book for later.
func (lm *LibraryManager) AddToWishlist(ctx context.Context, bookID int64) (Result, error) {
	item, err := lm.catalogItem(bookID)
	if err != nil {
		return Result{}, err
	}
	return lm.dispatcher.Dispatch(ctx, AddToWishlist{Item: item}), nil
}

// ExtendLoan moves a borrowed book's due date out by a week, once.
func (lm *LibraryManager) ExtendLoan(ctx context.Context, bookID int64) Result {
	return lm.dispatcher.Dispatch(ctx, ExtendLoan{ID: bookID})
}

// ToggleTheme switches between the light and dark display preference.
func (lm *LibraryManager) ToggleTheme(ctx context.Context) Result {
	return lm.dispatcher.Dispatch(ctx, ToggleTheme{})
}

// Receipt is what a successful checkout hands back to the borrower.
type Receipt struct {
	ReservationID string
	Notice        CheckoutNotice
	Result        Result
}

// Checkout validates the borrower form, borrows everything in the cart, and sends
// a confirmation. A failed confirmation is logged but does not undo the checkout.
func (lm *LibraryManager) Checkout(ctx context.Context, req CheckoutRequest) (Receipt, error) {
	if len(lm.State().Cart) == 0 {
		return Receipt{}, ErrEmptyCart
	}
	action, err := req.Action(lm.now())
	if err != nil {
		return Receipt{}, err
	}

	prev, res := lm.dispatcher.dispatch(ctx, action)
	switch {
	case res.Rejected():
		return Receipt{Result: res}, res.Err
	case !res.Changed():
		// Emptied by another caller since the check above.
		return Receipt{Result: res}, ErrEmptyCart
	}

	receipt := Receipt{
		ReservationID: NewReservationID(),
		Result:        res,
	}
	borrowed := res.State.History[len(prev.History):]
	receipt.Notice = NewCheckoutNotice(receipt.ReservationID, action, borrowed)

	if err := lm.notifier.NotifyCheckout(ctx, receipt.Notice); err != nil {
		lm.logger.ErrorContext(ctx, "send checkout confirmation", "reservation_id", receipt.ReservationID, "err", err)
	}
	return receipt, nil
}

// ------------------ Dashboard ------------------

// BorrowedItems lists the catalog books currently on loan.
func (lm *LibraryManager) BorrowedItems() []CatalogItem { return lm.State().Borrowed() }

// DaysLeft is how many days remain on a loan; 0 when overdue or unparseable.
func (lm *LibraryManager) DaysLeft(item CatalogItem) int {
	days, err := DaysLeft(item.DueDate, lm.now())
	if err != nil {
		return 0
	}
	return days
}

// ------------------ Search ------------------

// SearchCatalog filters the loaded catalog by a case-insensitive title or author
// substring and an optional category.
func (lm *LibraryManager) SearchCatalog(text, category string) []CatalogItem {
	needle := strings.ToLower(strings.TrimSpace(text))
	out := []CatalogItem{}
	for _, item := range lm.State().Catalog {
		if category != "" && category != CategoryAll && item.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(item.Title), needle) &&
			!strings.Contains(strings.ToLower(item.Author), needle) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// SearchBooks queries the books table directly.
func (lm *LibraryManager) SearchBooks(ctx context.Context, q BookQuery) ([]CatalogItem, error) {
	return lm.db.SearchBooks(ctx, q)
}

// CategoryCount summarises one category of the loaded catalog.
type CategoryCount struct {
	Category string
	Free     int
	Taken    int
}

// CategoryCounts counts free (Available) and taken books per category, sorted by name.
// The first entry is the CategoryAll total.
func (lm *LibraryManager) CategoryCounts() []CategoryCount {
	all := CategoryCount{Category: CategoryAll}
	byName := map[string]*CategoryCount{}
	for _, item := range lm.State().Catalog {
		c, ok := byName[item.Category]
		if !ok {
			c = &CategoryCount{Category: item.Category}
			byName[item.Category] = c
		}
		if item.Status == StatusAvailable {
			c.Free++
			all.Free++
		} else {
			c.Taken++
			all.Taken++
		}
	}

	out := make([]CategoryCount, 0, len(byName)+1)
	out = append(out, all)
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, *byName[name])
	}
	return out
}

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(item CatalogItem) (int64, error) { return lm.db.AddBook(item) }
func (lm *LibraryManager) GetBook(id int64) (*CatalogItem, error)  { return lm.db.GetBook(id) }
func (lm *LibraryManager) GetAllBooks() ([]CatalogItem, error)     { return lm.db.GetAllBooks() }
func (lm *LibraryManager) UpdateBook(item CatalogItem) error       { return lm.db.UpdateBook(item) }
func (lm *LibraryManager) DeleteBook(id int64) error               { return lm.db.DeleteBook(id) }

// ------------------ Review helpers ------------------

func (lm *LibraryManager) AddReview(r Review) (int64, error)      { return lm.db.AddReview(r) }
func (lm *LibraryManager) Reviews(bookID int64) ([]Review, error) { return lm.db.Reviews(bookID) }
func (lm *LibraryManager) UpdateReview(r Review) error            { return lm.db.UpdateReview(r) }
func (lm *LibraryManager) DeleteReview(id int64) error            { return lm.db.DeleteReview(id) }

// ------------------ Records ------------------

// Records returns the raw persisted records that exist, keyed by name.
func (lm *LibraryManager) Records(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(RecordKeys))
	for _, key := range RecordKeys {
		data, err := lm.store.GetRecord(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = data
	}
	return out, nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a catalog book for lists.
func PrettyBook(b CatalogItem) string {
	return fmt.Sprintf("%-5d %-30s %-25s %-12s %-10s", b.ID, truncate(b.Title, 30), truncate(b.Author, 25), truncate(b.Category, 12), b.Status)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
