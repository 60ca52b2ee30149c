package library

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []CheckoutNotice
	err     error
}

func (r *recordingNotifier) NotifyCheckout(_ context.Context, n CheckoutNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func clock() time.Time { return fixedNow }

func openManager(t *testing.T, path string, opts ...ManagerOption) *LibraryManager {
	t.Helper()
	opts = append([]ManagerOption{
		WithLogger(quietLogger()),
		WithClock(clock),
		WithSyncOptions(WithRetry(WithBaseDelay(time.Millisecond))),
	}, opts...)
	mgr, err := NewLibraryManager(path, opts...)
	if err != nil {
		t.Fatalf("mgr: %v", err)
	}
	return mgr
}

func newManager(t *testing.T, opts ...ManagerOption) *LibraryManager {
	dir := t.TempDir()
	mgr := openManager(t, filepath.Join(dir, "lib.db"), opts...)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

// loadedManager seeds the books table and loads it into the circulation state.
func loadedManager(t *testing.T, opts ...ManagerOption) (*LibraryManager, []int64) {
	t.Helper()
	mgr := newManager(t, opts...)
	ids := seedBooks(t, mgr.db)
	if err := mgr.LoadCatalog(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return mgr, ids
}

func TestManagerLoadCatalog(t *testing.T) {
	mgr, ids := loadedManager(t)
	s := mgr.State()

	require.Len(t, s.Catalog, len(ids))
	assert.False(t, s.Loading)
	assert.Empty(t, s.Error)

	// A second load leaves the snapshot alone.
	_, err := mgr.AddBook(CatalogItem{Title: "Late", Author: "Comer"})
	require.NoError(t, err)
	require.NoError(t, mgr.LoadCatalog(context.Background()))
	assert.Len(t, mgr.State().Catalog, len(ids))
}

func TestManagerReserveAndCheckout(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	mgr, ids := loadedManager(t, WithNotifier(notifier))

	for _, id := range ids[:2] {
		_, err := mgr.Reserve(ctx, id)
		require.NoError(t, err)
	}
	_, err := mgr.Reserve(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotInCatalog)

	receipt, err := mgr.Checkout(ctx, validRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^BN-\d{6}$`, receipt.ReservationID)
	assert.Equal(t, OutcomeApplied, receipt.Result.Outcome)
	assert.Equal(t, "Dune by Frank Herbert, Emma by Jane Austen", receipt.Notice.BookList)
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, receipt.Notice, notifier.notices[0])

	s := mgr.State()
	assert.Empty(t, s.Cart)
	assert.Len(t, mgr.BorrowedItems(), 2)
	assert.Equal(t, 2, s.TotalBorrowed())
	assert.Equal(t, "Ada Lovelace", s.User.Name)
	assert.Equal(t, 14, mgr.DaysLeft(mgr.BorrowedItems()[0]))

	_, err = mgr.Reserve(ctx, ids[0])
	assert.ErrorIs(t, err, ErrItemUnavailable)
}

func TestManagerCheckoutErrors(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	mgr, ids := loadedManager(t, WithNotifier(notifier))

	_, err := mgr.Checkout(ctx, validRequest())
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = mgr.Reserve(ctx, ids[0])
	require.NoError(t, err)
	bad := validRequest()
	bad.Email = "nope"
	_, err = mgr.Checkout(ctx, bad)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Len(t, mgr.State().Cart, 1)
	assert.Empty(t, notifier.notices)
}

func TestManagerCheckoutSurvivesNotifierFailure(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	mgr, ids := loadedManager(t, WithNotifier(notifier))

	_, err := mgr.Reserve(ctx, ids[0])
	require.NoError(t, err)
	_, err = mgr.Checkout(ctx, validRequest())
	require.NoError(t, err)
	assert.Len(t, mgr.BorrowedItems(), 1)
}

func TestManagerConcurrentCheckoutNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	mgr, ids := loadedManager(t, WithNotifier(notifier))
	_, err := mgr.Reserve(ctx, ids[1])
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Checkout(ctx, validRequest())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrEmptyCart)
	}
	assert.Equal(t, 1, succeeded)
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "Emma by Jane Austen", notifier.notices[0].BookList)
	assert.Equal(t, 1, mgr.State().TotalBorrowed())
}

func TestManagerCartFull(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	var ids []int64
	for i := 0; i < MaxCartSize+1; i++ {
		id, err := mgr.AddBook(CatalogItem{Title: "Book", Author: "Author"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, mgr.LoadCatalog(ctx))

	for _, id := range ids[:MaxCartSize] {
		_, err := mgr.Reserve(ctx, id)
		require.NoError(t, err)
	}
	res, err := mgr.Reserve(ctx, ids[MaxCartSize])
	assert.ErrorIs(t, err, ErrCartFull)
	assert.True(t, res.Rejected())
	assert.Len(t, mgr.State().Cart, MaxCartSize)
}

func TestManagerRemoveCancelExtendWishlist(t *testing.T) {
	ctx := context.Background()
	mgr, ids := loadedManager(t)

	_, err := mgr.Reserve(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, mgr.RemoveFromCart(ctx, ids[0]).Changed())
	assert.False(t, mgr.CancelReservation(ctx, ids[0]).Changed())

	_, err = mgr.Reserve(ctx, ids[1])
	require.NoError(t, err)
	_, err = mgr.Checkout(ctx, validRequest())
	require.NoError(t, err)
	assert.True(t, mgr.ExtendLoan(ctx, ids[1]).Changed())
	assert.False(t, mgr.ExtendLoan(ctx, ids[1]).Changed())
	item, _ := mgr.State().CatalogItem(ids[1])
	assert.Equal(t, "2024-01-31", item.DueDate)

	res, err := mgr.AddToWishlist(ctx, ids[2])
	require.NoError(t, err)
	assert.True(t, res.Changed())
	res, err = mgr.AddToWishlist(ctx, ids[2])
	require.NoError(t, err)
	assert.False(t, res.Changed())

	assert.Equal(t, ThemeDark, mgr.ToggleTheme(ctx).State.DisplayPreference)
}

func TestManagerSearchAndCounts(t *testing.T) {
	ctx := context.Background()
	mgr, ids := loadedManager(t)

	assert.Len(t, mgr.SearchCatalog("AUSTEN", ""), 2)
	assert.Len(t, mgr.SearchCatalog("", "Science Fiction"), 2)
	assert.Len(t, mgr.SearchCatalog("", CategoryAll), 4)
	assert.Len(t, mgr.SearchCatalog("emma", "Science Fiction"), 0)

	_, err := mgr.Reserve(ctx, ids[0])
	require.NoError(t, err)

	counts := mgr.CategoryCounts()
	assert.Equal(t, []CategoryCount{
		{Category: CategoryAll, Free: 3, Taken: 1},
		{Category: "Classics", Free: 2, Taken: 0},
		{Category: "Science Fiction", Free: 1, Taken: 1},
	}, counts)

	found, err := mgr.SearchBooks(ctx, BookQuery{Text: "gibson"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestManagerRestoresAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lib.db")

	first := openManager(t, path)
	ids := seedBooks(t, first.db)
	require.NoError(t, first.LoadCatalog(ctx))
	_, err := first.Reserve(ctx, ids[0])
	require.NoError(t, err)
	_, err = first.Checkout(ctx, validRequest())
	require.NoError(t, err)
	_, err = first.Reserve(ctx, ids[1])
	require.NoError(t, err)
	_, err = first.AddToWishlist(ctx, ids[2])
	require.NoError(t, err)
	first.ToggleTheme(ctx)
	before := first.State()
	require.NoError(t, first.Close())

	second := openManager(t, path)
	t.Cleanup(func() { second.Close() })
	require.NoError(t, second.LoadCatalog(ctx))
	after := second.State()

	assert.Equal(t, before.Cart, after.Cart)
	assert.Equal(t, before.Wishlist, after.Wishlist)
	assert.Equal(t, before.User, after.User)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, ThemeDark, after.DisplayPreference)
	assert.Equal(t, before.Catalog, after.Catalog)
	assert.NoError(t, after.Validate())

	records, err := second.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, len(RecordKeys))
}

func TestManagerWithRedisStore(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	store := NewRedisRecordStoreFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}), "mgr")
	mgr, ids := loadedManager(t, WithRecordStore(store))

	_, err := mgr.Reserve(ctx, ids[0])
	require.NoError(t, err)
	require.NoError(t, mgr.Flush(ctx))

	raw, err := srv.Get("mgr:record:cart")
	require.NoError(t, err)
	assert.Contains(t, raw, `"title":"Dune"`)
	assert.Zero(t, mgr.PersistFailures())
}

func TestManagerBookAndReviewHelpers(t *testing.T) {
	mgr, ids := loadedManager(t)

	id, err := mgr.AddReview(Review{BookID: ids[0], User: "Alice", Rating: 5, Comment: "Great"})
	require.NoError(t, err)
	reviews, err := mgr.Reviews(ids[0])
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	reviews[0].Comment = "Still great"
	require.NoError(t, mgr.UpdateReview(reviews[0]))
	require.NoError(t, mgr.DeleteReview(id))

	b, err := mgr.GetBook(ids[0])
	require.NoError(t, err)
	b.Copies = 9
	require.NoError(t, mgr.UpdateBook(*b))
	require.NoError(t, mgr.DeleteBook(ids[0]))
	all, err := mgr.GetAllBooks()
	require.NoError(t, err)
	assert.Len(t, all, len(ids)-1)
}

func TestPrettyBook(t *testing.T) {
	line := PrettyBook(CatalogItem{ID: 7, Title: "A Very Long Title That Keeps Going On And On", Author: "Someone", Category: "Fiction", Status: StatusBorrowed})
	assert.Contains(t, line, "A Very Long Title That Keeps …")
	assert.Contains(t, line, string(StatusBorrowed))
}
