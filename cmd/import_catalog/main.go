package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"booknest/library"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// bookReviews is one entry of reviews.json.
type bookReviews struct {
	BookID  int64 `json:"bookId"`
	Reviews []struct {
		User    string `json:"user"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	} `json:"reviews"`
}

func main() {
	var (
		dbPath  string
		dataDir string
		fresh   bool
	)
	cmd := &cobra.Command{
		Use:          "import_catalog",
		Short:        "Seed the books and reviews tables from books.json and reviews.json",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(dbPath, dataDir, fresh)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "library.db", "SQLite database to seed")
	cmd.Flags().StringVar(&dataDir, "data", "data", "directory holding books.json and reviews.json")
	cmd.Flags().BoolVar(&fresh, "fresh", true, "remove the existing database first")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(dbPath, dataDir string, fresh bool) error {
	if fresh {
		// Clean up any existing database files
		fmt.Println("Cleaning up existing database files...")
		for _, file := range []string{dbPath, dbPath + "-shm", dbPath + "-wal"} {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	var books []library.CatalogItem
	if err := readJSON(filepath.Join(dataDir, "books.json"), &books); err != nil {
		return err
	}
	var reviews []bookReviews
	if err := readJSON(filepath.Join(dataDir, "reviews.json"), &reviews); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		fmt.Println("No reviews.json found, skipping reviews.")
	}

	db, err := library.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	fmt.Println("Seeding books...")
	// The database assigns new ids; keep the file's ids to attach reviews.
	idMap := make(map[int64]int64, len(books))
	successCount, errorCount := 0, 0
	for _, book := range books {
		oldID := book.ID
		newID, err := db.AddBook(book)
		if err != nil {
			fmt.Printf("ERROR - %s: %v\n", book.Title, err)
			errorCount++
			continue
		}
		idMap[oldID] = newID
		fmt.Printf("Created book: %s (ID: %d)\n", book.Title, newID)
		successCount++
	}

	fmt.Println("Seeding reviews...")
	reviewCount := 0
	for _, item := range reviews {
		newID, ok := idMap[item.BookID]
		if !ok {
			fmt.Printf("Warning: Book ID %d not found for reviews.\n", item.BookID)
			continue
		}
		for _, r := range item.Reviews {
			if _, err := db.AddReview(library.Review{BookID: newID, User: r.User, Rating: r.Rating, Comment: r.Comment}); err != nil {
				fmt.Printf("ERROR - review by %s on book %d: %v\n", r.User, newID, err)
				errorCount++
				continue
			}
			reviewCount++
		}
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Books: %d, reviews: %d, errors: %d\n", successCount, reviewCount, errorCount)

	if successCount > 0 {
		all, err := db.GetAllBooks()
		if err != nil {
			return fmt.Errorf("list books: %w", err)
		}
		fmt.Printf("\n%-3s %-50s %-30s\n", "ID", "Title", "Author")
		fmt.Println(strings.Repeat("-", 85))
		for _, b := range all {
			fmt.Printf("%-3d %-50s %-30s\n", b.ID, truncateString(b.Title, 50), truncateString(b.Author, 30))
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
