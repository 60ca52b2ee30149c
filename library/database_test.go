package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBooks(t *testing.T, db *Database) []int64 {
	t.Helper()
	items := []CatalogItem{
		{Title: "Dune", Author: "Frank Herbert", Category: "Science Fiction", Rating: 4.6, Copies: 3, Year: 1965, Featured: true},
		{Title: "Emma", Author: "Jane Austen", Category: "Classics", Rating: 4.1, Copies: 1},
		{Title: "Pride and Prejudice", Author: "Jane Austen", Category: "Classics", Rating: 4.7, Copies: 2},
		{Title: "Neuromancer", Author: "William Gibson", Category: "Science Fiction", Status: StatusBorrowed, Copies: 1},
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := db.AddBook(item)
		if err != nil {
			t.Fatalf("add book %s: %v", item.Title, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAddAndGetBook(t *testing.T) {
	db := tempDB(t)
	ids := seedBooks(t, db)

	b, err := db.GetBook(ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Title != "Dune" || b.Author != "Frank Herbert" || b.Year != 1965 || !b.Featured {
		t.Fatalf("unexpected book: %+v", b)
	}
	if b.Status != StatusAvailable {
		t.Fatalf("want default status Available, got %s", b.Status)
	}

	if _, err := db.GetBook(9999); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("want ErrNotInCatalog, got %v", err)
	}
	if _, err := db.AddBook(CatalogItem{Title: "  "}); err == nil {
		t.Fatalf("expected empty title to fail")
	}
}

func TestCatalogItemsOrdered(t *testing.T) {
	db := tempDB(t)
	ids := seedBooks(t, db)

	items, err := db.CatalogItems(context.Background())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(items) != len(ids) {
		t.Fatalf("want %d items, got %d", len(ids), len(items))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Fatalf("item %d: want id %d, got %d", i, ids[i], item.ID)
		}
	}
}

func TestSearchBooks(t *testing.T) {
	db := tempDB(t)
	seedBooks(t, db)
	ctx := context.Background()

	cases := []struct {
		name string
		q    BookQuery
		want int
	}{
		{"all", BookQuery{}, 4},
		{"author", BookQuery{Text: "austen"}, 2},
		{"title", BookQuery{Text: "dune"}, 1},
		{"category", BookQuery{Category: "Science Fiction"}, 2},
		{"category all", BookQuery{Category: CategoryAll}, 4},
		{"status", BookQuery{Status: StatusBorrowed}, 1},
		{"combined", BookQuery{Text: "Jane", Category: "Science Fiction"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := db.SearchBooks(ctx, tc.q)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(res) != tc.want {
				t.Fatalf("want %d results, got %d", tc.want, len(res))
			}
		})
	}
}

func TestUpdateAndDeleteBook(t *testing.T) {
	db := tempDB(t)
	ids := seedBooks(t, db)

	b, _ := db.GetBook(ids[1])
	b.Copies = 5
	b.Description = "A comedy of manners."
	if err := db.UpdateBook(*b); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := db.GetBook(ids[1])
	if got.Copies != 5 || got.Description != "A comedy of manners." {
		t.Fatalf("update not stored: %+v", got)
	}

	if err := db.DeleteBook(ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.DeleteBook(ids[1]); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("second delete: want ErrNotInCatalog, got %v", err)
	}
	if err := db.UpdateBook(CatalogItem{ID: 9999, Title: "x"}); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("update missing: want ErrNotInCatalog, got %v", err)
	}
}

func TestReviewsCascadeOnDelete(t *testing.T) {
	db := tempDB(t)
	ids := seedBooks(t, db)

	for _, r := range []Review{
		{BookID: ids[0], User: "Alice", Rating: 5, Comment: "Spice!"},
		{BookID: ids[0], User: "Bob", Rating: 4, Comment: "Long but good"},
		{BookID: ids[1], User: "Carol", Rating: 3},
	} {
		if _, err := db.AddReview(r); err != nil {
			t.Fatalf("add review: %v", err)
		}
	}

	reviews, err := db.Reviews(ids[0])
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if len(reviews) != 2 || reviews[0].User != "Alice" || reviews[1].User != "Bob" {
		t.Fatalf("unexpected reviews: %+v", reviews)
	}

	reviews[1].Rating = 2
	if err := db.UpdateReview(reviews[1]); err != nil {
		t.Fatalf("update review: %v", err)
	}
	if err := db.DeleteReview(reviews[0].ID); err != nil {
		t.Fatalf("delete review: %v", err)
	}
	reviews, _ = db.Reviews(ids[0])
	if len(reviews) != 1 || reviews[0].Rating != 2 {
		t.Fatalf("unexpected reviews after edit: %+v", reviews)
	}

	if err := db.DeleteBook(ids[0]); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	reviews, _ = db.Reviews(ids[0])
	if len(reviews) != 0 {
		t.Fatalf("reviews should cascade, got %d", len(reviews))
	}
	if other, _ := db.Reviews(ids[1]); len(other) != 1 {
		t.Fatalf("unrelated reviews removed")
	}
}

func TestAddReviewValidation(t *testing.T) {
	db := tempDB(t)
	ids := seedBooks(t, db)

	if _, err := db.AddReview(Review{BookID: ids[0], User: "A", Rating: 6}); err == nil {
		t.Fatalf("expected rating 6 to fail")
	}
	if _, err := db.AddReview(Review{BookID: 9999, User: "A", Rating: 4}); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("want ErrNotInCatalog, got %v", err)
	}
}

func TestRecordStoreSQLite(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if _, err := db.GetRecord(ctx, RecordCart); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("want ErrRecordNotFound, got %v", err)
	}
	if err := db.PutRecord(ctx, RecordCart, []byte(`[{"id":1}]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.PutRecord(ctx, RecordCart, []byte(`[]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := db.GetRecord(ctx, RecordCart)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "[]" {
		t.Fatalf("want [], got %s", got)
	}

	all, err := db.Records(ctx)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("want 1 record, got %d", len(all))
	}
}

func TestRecordDigestMismatch(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	if err := db.PutRecord(ctx, RecordUserProfile, []byte(`{"name":"A"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := db.db.Exec(`UPDATE records SET value=? WHERE key=?`, []byte(`{"name":"B"}`), RecordUserProfile); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := db.GetRecord(ctx, RecordUserProfile); !errors.Is(err, ErrRecordCorrupt) {
		t.Fatalf("want ErrRecordCorrupt, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.AddBook(CatalogItem{Title: "Kept", Author: "A"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	db.Close()

	db, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	books, err := db.GetAllBooks()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("want 1 book after reopen, got %d", len(books))
	}
}
