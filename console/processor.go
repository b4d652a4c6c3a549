package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"library-lending/library"
	"library-lending/metrics"
)

// Processor parses console commands and hands them to the library services.
// It owns the login session of the person at the keyboard.
type Processor struct {
	mgr     *library.LibraryManager
	sc      *bufio.Scanner
	out     io.Writer
	session *library.User

	// Now supplies "today" for loans, returns and overdue reports.
	Now func() time.Time
	// ReadPassword reads a secret after printing prompt. By default it reads
	// an ordinary input line.
	ReadPassword func(prompt string) (string, error)
	// Metrics is printed by the stats command when set.
	Metrics prometheus.Gatherer
}

func New(mgr *library.LibraryManager, in io.Reader, out io.Writer) *Processor {
	p := &Processor{
		mgr: mgr,
		sc:  bufio.NewScanner(in),
		out: out,
		Now: time.Now,
	}
	p.ReadPassword = p.readLine
	return p
}

// Session returns the logged-in user, or nil.
func (p *Processor) Session() *library.User { return p.session }

// Run prints a prompt and handles lines until exit or end of input.
func (p *Processor) Run(ctx context.Context) error {
	fmt.Fprintln(p.out, "Welcome to the library. Type 'help' to see the available commands.")
	for {
		fmt.Fprint(p.out, "\n> ")
		if !p.sc.Scan() {
			return p.sc.Err()
		}
		if !p.Handle(ctx, p.sc.Text()) {
			return nil
		}
	}
}

// Handle runs one command line. It reports false once the user asked to exit.
// Failures are printed, never returned.
func (p *Processor) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	rest := strings.TrimSpace(line[len(fields[0]):])

	var err error
	switch command {
	case "help":
		p.printHelp()
	case "exit":
		fmt.Fprintln(p.out, "Goodbye!")
		return false
	case "register":
		err = p.handleRegister(ctx)
	case "login":
		err = p.handleLogin(ctx)
	case "logout":
		p.session = nil
		fmt.Fprintln(p.out, "Logged out.")
	case "whoami":
		p.handleWhoAmI()
	case "search":
		err = p.handleSearch(ctx, rest)
	case "books":
		err = p.handleListBooks(ctx)
	case "myloans":
		err = p.handleMyLoans(ctx)
	case "loan":
		err = p.handleLoan(ctx, rest)
	case "return":
		err = p.handleReturn(ctx, rest)
	case "addbook":
		err = p.handleAddBook(ctx)
	case "addstock":
		err = p.handleAddStock(ctx, fields)
	case "writeoff":
		err = p.handleWriteOff(ctx, fields)
	case "overdue":
		err = p.handleOverdue(ctx)
	case "stats":
		err = p.handleStats()
	default:
		fmt.Fprintln(p.out, "Unknown command. Type 'help' to see the available commands.")
	}

	if err != nil {
		if _, ok := library.KindOf(err); ok {
			fmt.Fprintf(p.out, "[error] %v\n", err)
		} else {
			fmt.Fprintf(p.out, "[unexpected error] %v\n", err)
		}
	}
	return true
}

func (p *Processor) printHelp() {
	fmt.Fprintln(p.out, "Commands:")
	fmt.Fprintln(p.out, "  register | login | logout | whoami")
	fmt.Fprintln(p.out, "  search <keyword>")
	fmt.Fprintln(p.out, "  books")
	fmt.Fprintln(p.out, "  myloans")
	fmt.Fprintln(p.out, "  loan <isbn|title>")
	fmt.Fprintln(p.out, "  return <isbn|title>")
	fmt.Fprintln(p.out, "  (admin) addbook")
	fmt.Fprintln(p.out, "  (admin) addstock <isbn> <n>")
	fmt.Fprintln(p.out, "  (admin) writeoff <isbn> <n>")
	fmt.Fprintln(p.out, "  (admin) overdue")
	fmt.Fprintln(p.out, "  stats")
	fmt.Fprintln(p.out, "  exit")
}

// ------------------ Accounts ------------------

func (p *Processor) handleRegister(ctx context.Context) error {
	id, err := p.readLine("ID: ")
	if err != nil {
		return err
	}
	pw, err := p.ReadPassword("Password: ")
	if err != nil {
		return err
	}
	name, err := p.readLine("Name: ")
	if err != nil {
		return err
	}

	user, err := p.mgr.Auth.Register(ctx, id, pw, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Registered member %s (ID: %s)\n", user.Name, user.ID)
	return nil
}

func (p *Processor) handleLogin(ctx context.Context) error {
	id, err := p.readLine("ID: ")
	if err != nil {
		return err
	}
	pw, err := p.ReadPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := p.mgr.Auth.Login(ctx, id, pw)
	if err != nil {
		return err
	}
	p.session = user
	fmt.Fprintf(p.out, "Logged in as %s (%s)\n", user.Name, user.Role)
	return nil
}

func (p *Processor) handleWhoAmI() {
	if p.session == nil {
		fmt.Fprintln(p.out, "Not logged in.")
		return
	}
	fmt.Fprintf(p.out, "%s (ID: %s, %s)\n", p.session.Name, p.session.ID, p.session.Role)
}

// ------------------ Catalog ------------------

func (p *Processor) handleSearch(ctx context.Context, keyword string) error {
	if keyword == "" {
		return library.ValidationError("usage: search <keyword>")
	}
	books, err := p.mgr.SearchBooks(ctx, keyword)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Fprintf(p.out, "No books found matching '%s'.\n", keyword)
		return nil
	}
	for _, b := range books {
		fmt.Fprintf(p.out, "%s | %s | ISBN: %s | available: %d\n", b.Title, b.Author, b.ISBN, b.Available)
	}
	return nil
}

func (p *Processor) handleListBooks(ctx context.Context) error {
	books, err := p.mgr.GetAllBooks(ctx)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		fmt.Fprintln(p.out, "No books in library.")
		return nil
	}
	fmt.Fprintf(p.out, "%-12s %-30s %-20s %-14s %s\n", "ISBN", "Title", "Author", "Category", "Avail/Total")
	fmt.Fprintln(p.out, strings.Repeat("-", 90))
	for _, b := range books {
		fmt.Fprintln(p.out, library.PrettyBook(b))
	}
	return nil
}

func (p *Processor) handleAddBook(ctx context.Context) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	isbn, err := p.readLine("ISBN: ")
	if err != nil {
		return err
	}
	title, err := p.readLine("Title: ")
	if err != nil {
		return err
	}
	author, err := p.readLine("Author: ")
	if err != nil {
		return err
	}
	category, err := p.readLine("Category: ")
	if err != nil {
		return err
	}
	copiesStr, err := p.readLine("Copies: ")
	if err != nil {
		return err
	}
	copies, err := parseQuantity(copiesStr)
	if err != nil {
		return err
	}

	book, err := library.NewBook(isbn, title, author, category, copies)
	if err != nil {
		return err
	}
	if err := p.mgr.Books.RegisterBook(ctx, p.session, book); err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Added '%s' (ISBN %s) with %d copies.\n", book.Title, book.ISBN, book.Total)
	return nil
}

func (p *Processor) handleAddStock(ctx context.Context, fields []string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	isbn, n, err := isbnAndQuantity(fields, "usage: addstock <isbn> <n>")
	if err != nil {
		return err
	}
	book, err := p.mgr.Books.AddStock(ctx, p.session, isbn, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Stock added: %s now %d/%d\n", book.ISBN, book.Available, book.Total)
	return nil
}

func (p *Processor) handleWriteOff(ctx context.Context, fields []string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	isbn, n, err := isbnAndQuantity(fields, "usage: writeoff <isbn> <n>")
	if err != nil {
		return err
	}
	book, err := p.mgr.Books.WriteOff(ctx, p.session, isbn, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Written off: %s now %d/%d\n", book.ISBN, book.Available, book.Total)
	return nil
}

// ------------------ Circulation ------------------

func (p *Processor) handleLoan(ctx context.Context, token string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	if token == "" {
		return library.ValidationError("usage: loan <isbn|title>")
	}

	var (
		loan *library.Loan
		err  error
	)
	if looksLikeISBN(token) {
		loan, err = p.mgr.Loans.Loan(ctx, p.session, token, p.Now())
	} else {
		loan, err = p.mgr.Loans.LoanByTitle(ctx, p.session, token, p.Now())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Loan issued: %s (due %s)\n", p.titleOf(ctx, loan.ISBN), loan.DueDate.Format(time.DateOnly))
	return nil
}

func (p *Processor) handleReturn(ctx context.Context, token string) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	if token == "" {
		return library.ValidationError("usage: return <isbn|title>")
	}

	var (
		loan *library.Loan
		err  error
	)
	if looksLikeISBN(token) {
		loan, err = p.mgr.Loans.ReturnBook(ctx, p.session, token, p.Now())
	} else {
		loan, err = p.mgr.Loans.ReturnByTitle(ctx, p.session, token, p.Now())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Returned: %s\n", p.titleOf(ctx, loan.ISBN))
	if late := library.DaysBetween(loan.DueDate, p.Now()); late > 0 {
		fmt.Fprintf(p.out, "This book was %d day(s) overdue.\n", late)
	}
	return nil
}

func (p *Processor) handleMyLoans(ctx context.Context) error {
	loans, err := p.mgr.Loans.ActiveLoans(ctx, p.session)
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Fprintln(p.out, "You have no books on loan.")
		return nil
	}
	for _, l := range loans {
		fmt.Fprintf(p.out, "%s | %s | DUE:%s\n", l.ISBN, p.titleOf(ctx, l.ISBN), l.DueDate.Format(time.DateOnly))
	}
	return nil
}

func (p *Processor) handleOverdue(ctx context.Context) error {
	if err := p.requireLogin(); err != nil {
		return err
	}
	entries, err := p.mgr.Overdues.ListOverdues(ctx, p.session, p.Now())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(p.out, "No overdue loans.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(p.out, "%s | %s | DUE:%s | +%d day(s)\n",
			e.User.Name, e.Book.Title, e.DueDate.Format(time.DateOnly), e.OverdueDays)
	}
	return nil
}

func (p *Processor) handleStats() error {
	if p.Metrics == nil {
		fmt.Fprintln(p.out, "Metrics are disabled.")
		return nil
	}
	return metrics.WriteText(p.out, p.Metrics)
}

// ------------------ Helpers ------------------

func (p *Processor) requireLogin() error {
	if p.session == nil {
		return library.AuthError("login required")
	}
	return nil
}

// readLine prints prompt and returns the next trimmed input line.
func (p *Processor) readLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return "", library.ValidationError("input cancelled")
	}
	return strings.TrimSpace(p.sc.Text()), nil
}

// titleOf falls back to the ISBN when the book cannot be read.
func (p *Processor) titleOf(ctx context.Context, isbn string) string {
	b, err := p.mgr.GetBook(ctx, isbn)
	if err != nil || b == nil {
		return isbn
	}
	return b.Title
}

func isbnAndQuantity(fields []string, usage string) (string, int, error) {
	if len(fields) < 3 {
		return "", 0, library.ValidationError("%s", usage)
	}
	n, err := parseQuantity(fields[2])
	if err != nil {
		return "", 0, err
	}
	return fields[1], n, nil
}

func parseQuantity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, library.ValidationError("quantity must be a number: %q", s)
	}
	return n, nil
}

// looksLikeISBN reports whether token is made only of digits, '-' and 'X'.
func looksLikeISBN(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !(r >= '0' && r <= '9' || r == '-' || r == 'X' || r == 'x') {
			return false
		}
	}
	return true
}
