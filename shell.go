package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"booknest/library"

	"golang.org/x/term"
)

// shell is the interactive circulation desk.
type shell struct {
	ctx         context.Context
	mgr         *library.LibraryManager
	sc          *bufio.Scanner
	out         io.Writer
	interactive bool
	width       int
}

func (a *app) runShell(ctx context.Context, in io.Reader, out io.Writer) error {
	mgr, err := a.openManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.LoadCatalog(ctx); err != nil {
		fmt.Fprintf(out, "Error loading catalog: %v\n", err)
	}

	sh := &shell{
		ctx:   ctx,
		mgr:   mgr,
		sc:    bufio.NewScanner(in),
		out:   out,
		width: 80,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		sh.interactive = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			sh.width = w
		}
	}
	sh.run()
	return nil
}

func (sh *shell) printf(format string, args ...any) { fmt.Fprintf(sh.out, format, args...) }
func (sh *shell) println(args ...any)               { fmt.Fprintln(sh.out, args...) }

func (sh *shell) rule() {
	w := sh.width
	if w > 100 {
		w = 100
	}
	sh.println(strings.Repeat("─", w))
}

// prompt prints label and reads one trimmed line; ok is false at end of input.
func (sh *shell) prompt(label string) (string, bool) {
	if sh.interactive {
		sh.printf("%s", label)
	}
	if !sh.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.sc.Text()), true
}

func (sh *shell) promptID(label string) (int64, bool) {
	raw, ok := sh.prompt(label)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		sh.printf("Invalid ID: %s\n", raw)
		return 0, false
	}
	return id, true
}

func (sh *shell) banner() {
	sh.println("Welcome to BookNest!")
	sh.println("Available commands:")
	sh.println("  Catalog: list books, search book, categories, book details, add book, delete book")
	sh.println("  Reviews: add review")
	sh.println("  Reservations: reserve, remove, cart, checkout")
	sh.println("  Dashboard: dashboard, extend, cancel reservation")
	sh.println("  Wishlist: wishlist, add wishlist")
	sh.println("  System: theme, state, help, exit")
}

func (sh *shell) run() {
	sh.banner()
	for {
		cmd, ok := sh.prompt("\n> ")
		if !ok {
			return
		}

		switch cmd {
		case "":
		case "list books":
			sh.listBooks(sh.mgr.State().Catalog)
		case "search book":
			sh.handleSearch()
		case "categories":
			sh.handleCategories()
		case "book details":
			sh.handleBookDetails()
		case "add book":
			sh.handleAddBook()
		case "delete book":
			sh.handleDeleteBook()
		case "add review":
			sh.handleAddReview()
		case "reserve":
			sh.handleReserve()
		case "remove":
			sh.handleRemove(false)
		case "cancel reservation":
			sh.handleRemove(true)
		case "cart":
			sh.handleCart()
		case "checkout":
			sh.handleCheckout()
		case "dashboard":
			sh.handleDashboard()
		case "extend":
			sh.handleExtend()
		case "wishlist":
			sh.listBooks(sh.mgr.State().Wishlist)
		case "add wishlist":
			sh.handleAddWishlist()
		case "theme":
			res := sh.mgr.ToggleTheme(sh.ctx)
			sh.printf("Display preference: %s\n", res.State.DisplayPreference)
		case "state":
			if err := sh.mgr.Flush(sh.ctx); err != nil {
				sh.printf("Error flushing state: %v\n", err)
			}
			if err := printRecords(sh.ctx, sh.mgr, sh.out); err != nil {
				sh.printf("Error: %v\n", err)
			}
		case "help":
			sh.banner()
		case "exit", "quit":
			sh.println("Goodbye!")
			return
		default:
			sh.println("Unknown command. Type 'help' to list the available commands.")
		}
	}
}

func (sh *shell) listBooks(books []library.CatalogItem) {
	if len(books) == 0 {
		sh.println("No books.")
		return
	}
	sh.printf("%-5s %-30s %-25s %-12s %-10s\n", "ID", "Title", "Author", "Category", "Status")
	sh.rule()
	for _, b := range books {
		sh.println(library.PrettyBook(b))
	}
}

func (sh *shell) handleSearch() {
	text, ok := sh.prompt("Title or author: ")
	if !ok {
		return
	}
	category, ok := sh.prompt("Category (blank for All): ")
	if !ok {
		return
	}
	sh.listBooks(sh.mgr.SearchCatalog(text, category))
}

func (sh *shell) handleCategories() {
	sh.printf("%-20s %6s %6s\n", "Category", "Free", "Taken")
	sh.rule()
	for _, c := range sh.mgr.CategoryCounts() {
		sh.printf("%-20s %6d %6d\n", c.Category, c.Free, c.Taken)
	}
}

func (sh *shell) handleBookDetails() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	book, err := sh.mgr.GetBook(id)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	if item, ok := sh.mgr.State().CatalogItem(id); ok {
		book.Status = item.Status
	}
	sh.printf("%s by %s\n", book.Title, book.Author)
	sh.printf("Category: %s | Rating: %.1f | Status: %s | Copies: %d\n", book.Category, book.Rating, book.Status, book.Copies)
	if book.ISBN != "" {
		sh.printf("ISBN: %s | Publisher: %s | Year: %d | Pages: %d\n", book.ISBN, book.Publisher, book.Year, book.Pages)
	}
	if book.Description != "" {
		sh.println(book.Description)
	}

	reviews, err := sh.mgr.Reviews(id)
	if err != nil {
		sh.printf("Error loading reviews: %v\n", err)
		return
	}
	sh.rule()
	if len(reviews) == 0 {
		sh.println("No reviews yet.")
		return
	}
	for _, r := range reviews {
		sh.printf("%s %s: %s\n", strings.Repeat("★", r.Rating), r.User, r.Comment)
	}
}

func (sh *shell) handleAddBook() {
	title, ok := sh.prompt("Title: ")
	if !ok {
		return
	}
	author, ok := sh.prompt("Author: ")
	if !ok {
		return
	}
	category, ok := sh.prompt("Category: ")
	if !ok {
		return
	}
	id, err := sh.mgr.AddBook(library.CatalogItem{Title: title, Author: author, Category: category, Copies: 1})
	if err != nil {
		sh.printf("Error adding book: %v\n", err)
		return
	}
	sh.printf("Added book ID %d. It joins the circulation catalog next session.\n", id)
}

func (sh *shell) handleDeleteBook() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	if err := sh.mgr.DeleteBook(id); err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	sh.printf("Deleted book %d and its reviews.\n", id)
}

func (sh *shell) handleAddReview() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	user, ok := sh.prompt("Your name: ")
	if !ok {
		return
	}
	raw, ok := sh.prompt("Rating (1-5): ")
	if !ok {
		return
	}
	rating, err := strconv.Atoi(raw)
	if err != nil {
		sh.printf("Invalid rating: %s\n", raw)
		return
	}
	comment, ok := sh.prompt("Comment: ")
	if !ok {
		return
	}
	if _, err := sh.mgr.AddReview(library.Review{BookID: id, User: user, Rating: rating, Comment: comment}); err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	sh.println("Review added.")
}

func (sh *shell) handleReserve() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	res, err := sh.mgr.Reserve(sh.ctx, id)
	switch {
	case err != nil:
		sh.printf("Error: %v\n", err)
	case !res.Changed():
		sh.println("Book is already in your cart.")
	default:
		sh.printf("Reserved. %d of %d cart slots used.\n", len(res.State.Cart), library.MaxCartSize)
	}
}

func (sh *shell) handleRemove(cancel bool) {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	var res library.Result
	if cancel {
		res = sh.mgr.CancelReservation(sh.ctx, id)
	} else {
		res = sh.mgr.RemoveFromCart(sh.ctx, id)
	}
	if !res.Changed() {
		sh.printf("Book %d is not in your cart.\n", id)
		return
	}
	sh.printf("Book %d removed from your cart.\n", id)
}

func (sh *shell) handleCart() {
	cart := sh.mgr.State().Cart
	sh.printf("Reservation cart (%d/%d)\n", len(cart), library.MaxCartSize)
	sh.listBooks(cart)
}

func (sh *shell) handleCheckout() {
	if len(sh.mgr.State().Cart) == 0 {
		sh.println("No books in reservation cart.")
		return
	}
	var req library.CheckoutRequest
	var ok bool
	if req.Name, ok = sh.prompt("Full name: "); !ok {
		return
	}
	if req.Email, ok = sh.prompt("Email: "); !ok {
		return
	}
	if req.MemberID, ok = sh.prompt("Membership ID: "); !ok {
		return
	}
	if req.PickupDate, ok = sh.prompt("Pickup date (YYYY-MM-DD): "); !ok {
		return
	}
	raw, ok := sh.prompt("Duration in days (7, 14, 21) [14]: ")
	if !ok {
		return
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			sh.printf("Invalid duration: %s\n", raw)
			return
		}
		req.Duration = n
	}

	receipt, err := sh.mgr.Checkout(sh.ctx, req)
	var verr *library.ValidationError
	switch {
	case errors.As(err, &verr):
		for _, p := range verr.Problems {
			sh.printf("  • %s\n", p)
		}
		return
	case err != nil:
		sh.printf("Error: %v\n", err)
		return
	}
	sh.printf("Reservation confirmed: %s\n", receipt.ReservationID)
	sh.printf("Pickup %s, due %s (%d days)\n", receipt.Notice.PickupDate, receipt.Notice.DueDate, receipt.Notice.Duration)
	sh.printf("Books: %s\n", receipt.Notice.BookList)
}

func (sh *shell) handleDashboard() {
	s := sh.mgr.State()
	if s.User != nil {
		sh.printf("%s (%s) | member %s | lifetime borrowed: %d\n", s.User.Name, s.User.Email, s.User.MemberID, s.User.TotalBorrowed)
	}
	borrowed := sh.mgr.BorrowedItems()
	sh.printf("Currently borrowed: %d\n", len(borrowed))
	sh.rule()
	for _, b := range borrowed {
		extended := ""
		if b.Extended {
			extended = " (extended)"
		}
		sh.printf("%-5d %-30s due %s, %d days left%s\n", b.ID, b.Title, b.DueDate, sh.mgr.DaysLeft(b), extended)
	}
	if len(s.Cart) > 0 {
		sh.printf("\nReserved, awaiting checkout: %d\n", len(s.Cart))
		for _, b := range s.Cart {
			sh.printf("%-5d %s\n", b.ID, b.Title)
		}
	}
	sh.printf("\nBorrow history: %d\n", len(s.History))
}

func (sh *shell) handleExtend() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	res := sh.mgr.ExtendLoan(sh.ctx, id)
	if !res.Changed() {
		sh.println("Only a borrowed book that has not been extended yet can be extended.")
		return
	}
	item, _ := res.State.CatalogItem(id)
	sh.printf("Borrow period extended by 7 days! New due date: %s\n", item.DueDate)
}

func (sh *shell) handleAddWishlist() {
	id, ok := sh.promptID("Book ID: ")
	if !ok {
		return
	}
	res, err := sh.mgr.AddToWishlist(sh.ctx, id)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	if !res.Changed() {
		sh.println("Already on your wishlist.")
		return
	}
	sh.println("Added to wishlist.")
}
