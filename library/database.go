package library

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

const dialectSQLite = "sqlite3"

var bookColumns = []any{
	"id", "title", "author", "category", "rating", "status", "copies",
	"isbn", "publisher", "year", "pages", "description", "cover", "featured",
}

// Database provides high-level helpers around a SQLite connection.
// It is the catalog source, the books/reviews backend, and a RecordStore.
type Database struct {
	db *sqlx.DB

	addBookStmt   *sql.Stmt
	addReviewStmt *sql.Stmt
	putRecordStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sqlx.Open(dialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sql.Stmt{d.addBookStmt, d.addReviewStmt, d.putRecordStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            rating REAL NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'Available',
            copies INTEGER NOT NULL DEFAULT 0,
            isbn TEXT NOT NULL DEFAULT '',
            publisher TEXT NOT NULL DEFAULT '',
            year INTEGER NOT NULL DEFAULT 0,
            pages INTEGER NOT NULL DEFAULT 0,
            description TEXT NOT NULL DEFAULT '',
            cover TEXT NOT NULL DEFAULT '',
            featured BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS reviews (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            user TEXT NOT NULL,
            rating INTEGER NOT NULL,
            comment TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_book ON reviews(book_id);`,
		`CREATE TABLE IF NOT EXISTS records (
            key TEXT PRIMARY KEY,
            value BLOB NOT NULL,
            digest TEXT NOT NULL,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Prepare(`INSERT INTO books(title,author,category,rating,status,copies,isbn,publisher,year,pages,description,cover,featured)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addReviewStmt, err = d.db.Prepare(`INSERT INTO reviews(book_id,user,rating,comment) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.putRecordStmt, err = d.db.Prepare(`INSERT INTO records(key,value,digest,updated_at) VALUES(?,?,?,CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value, digest=excluded.digest, updated_at=excluded.updated_at`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook inserts a catalog record and returns its new id. The item's own id is ignored.
func (d *Database) AddBook(item CatalogItem) (int64, error) {
	if strings.TrimSpace(item.Title) == "" {
		return 0, errors.New("title cannot be empty")
	}
	status := item.Status
	if status == "" {
		status = StatusAvailable
	}
	res, err := d.addBookStmt.Exec(item.Title, item.Author, item.Category, item.Rating, string(status), item.Copies,
		item.ISBN, item.Publisher, item.Year, item.Pages, item.Description, item.Cover, item.Featured)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetBook fetches a single catalog record.
func (d *Database) GetBook(id int64) (*CatalogItem, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From("books").
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	var item CatalogItem
	if err := d.db.Get(&item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %d: %w", id, ErrNotInCatalog)
		}
		return nil, err
	}
	return &item, nil
}

// GetAllBooks returns every catalog record ordered by id.
func (d *Database) GetAllBooks() ([]CatalogItem, error) {
	return d.CatalogItems(context.Background())
}

// CatalogItems loads the full catalog snapshot.
func (d *Database) CatalogItems(ctx context.Context) ([]CatalogItem, error) {
	return d.SearchBooks(ctx, BookQuery{})
}

// BookQuery filters SearchBooks. Zero fields match everything.
type BookQuery struct {
	Text     string // substring of title or author
	Category string // exact category; "All" matches every category
	Status   Status
}

// SearchBooks returns the catalog records matching q, ordered by id.
func (d *Database) SearchBooks(ctx context.Context, q BookQuery) ([]CatalogItem, error) {
	ds := goqu.Dialect(dialectSQLite).
		From("books").
		Select(bookColumns...).
		Order(goqu.I("id").Asc())

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + text + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").Like(pattern),
			goqu.C("author").Like(pattern),
		))
	}
	if q.Category != "" && q.Category != CategoryAll {
		ds = ds.Where(goqu.C("category").Eq(q.Category))
	}
	if q.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(q.Status)))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	items := []CatalogItem{}
	if err := d.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateBook replaces the bibliographic fields of an existing record.
func (d *Database) UpdateBook(item CatalogItem) error {
	status := item.Status
	if status == "" {
		status = StatusAvailable
	}
	res, err := d.db.Exec(`UPDATE books SET title=?, author=?, category=?, rating=?, status=?, copies=?, isbn=?,
        publisher=?, year=?, pages=?, description=?, cover=?, featured=? WHERE id=?`,
		item.Title, item.Author, item.Category, item.Rating, string(status), item.Copies, item.ISBN,
		item.Publisher, item.Year, item.Pages, item.Description, item.Cover, item.Featured, item.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("book %d: %w", item.ID, ErrNotInCatalog))
}

// DeleteBook removes a record and, through the foreign key, its reviews.
func (d *Database) DeleteBook(id int64) error {
	res, err := d.db.Exec(`DELETE FROM books WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("book %d: %w", id, ErrNotInCatalog))
}

// ---------------------------------------------------------------------------
// Reviews
// ---------------------------------------------------------------------------

// AddReview stores a review for an existing book.
func (d *Database) AddReview(r Review) (int64, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return 0, fmt.Errorf("rating must be between 1 and 5, got %d", r.Rating)
	}
	res, err := d.addReviewStmt.Exec(r.BookID, r.User, r.Rating, r.Comment)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return 0, fmt.Errorf("book %d: %w", r.BookID, ErrNotInCatalog)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// Reviews returns the reviews of a book in insertion order.
func (d *Database) Reviews(bookID int64) ([]Review, error) {
	reviews := []Review{}
	err := d.db.Select(&reviews, `SELECT id, book_id, user, rating, comment FROM reviews WHERE book_id=? ORDER BY id`, bookID)
	return reviews, err
}

// UpdateReview replaces the text and rating of a review.
func (d *Database) UpdateReview(r Review) error {
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", r.Rating)
	}
	res, err := d.db.Exec(`UPDATE reviews SET user=?, rating=?, comment=? WHERE id=?`, r.User, r.Rating, r.Comment, r.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("review %d not found", r.ID))
}

// DeleteReview removes a single review.
func (d *Database) DeleteReview(id int64) error {
	res, err := d.db.Exec(`DELETE FROM reviews WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Errorf("review %d not found", id))
}

func expectOneRow(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// PutRecord overwrites the record stored under key.
func (d *Database) PutRecord(ctx context.Context, key string, value []byte) error {
	_, err := d.putRecordStmt.ExecContext(ctx, key, value, recordDigest(value))
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

// GetRecord reads the record stored under key and checks its digest.
func (d *Database) GetRecord(ctx context.Context, key string) ([]byte, error) {
	var (
		value  []byte
		digest string
	)
	err := d.db.QueryRowContext(ctx, `SELECT value, digest FROM records WHERE key=?`, key).Scan(&value, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", key, err)
	}
	if recordDigest(value) != digest {
		return nil, fmt.Errorf("%s: %w", key, ErrRecordCorrupt)
	}
	return value, nil
}

// Records returns every stored record keyed by name.
func (d *Database) Records(ctx context.Context) (map[string][]byte, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM records ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func recordDigest(value []byte) string {
	sum := blake2b.Sum256(value)
	return hex.EncodeToString(sum[:])
}
