package library

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LoanService issues and takes back copies.
type LoanService struct {
	store  Store
	policy LoanPolicy
	newID  func() string
	observer
}

func NewLoanService(store Store, policy LoanPolicy, opts ...Option) *LoanService {
	return &LoanService{
		store:    store,
		policy:   policy,
		newID:    uuid.NewString,
		observer: newObserver(opts),
	}
}

func requireLogin(user *User) error {
	if user == nil {
		return AuthError(msgLoginRequired)
	}
	return nil
}

// Loan lends one copy of isbn to user, due after the policy's loan duration.
func (s *LoanService) Loan(ctx context.Context, user *User, isbn string, today time.Time) (*Loan, error) {
	if err := requireLogin(user); err != nil {
		return nil, s.done(ctx, "loan", err)
	}
	isbn = strings.TrimSpace(isbn)

	// The user's active-loan count and the book's stock are checked and
	// changed under both locks, and the stock and loan writes commit together.
	unlock := s.locks.LockAll(userKey(user.ID), bookKey(isbn))
	defer unlock()

	var loan *Loan
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		loan, err = s.loan(ctx, tx, user, isbn, today)
		return err
	})
	if err != nil {
		return nil, s.done(ctx, "loan", err)
	}
	s.metrics.RecordLoanIssued()
	s.log.InfoContext(ctx, "loan issued", "loan", loan.ID, "user", user.ID, "isbn", isbn,
		"due", loan.DueDate.Format(time.DateOnly))
	return loan, nil
}

func (s *LoanService) loan(ctx context.Context, tx Store, user *User, isbn string, today time.Time) (*Loan, error) {
	book, err := tx.Books().FindByISBN(ctx, isbn)
	if err != nil {
		return nil, fmt.Errorf("looking up book: %w", err)
	}
	if book == nil {
		return nil, NotFoundError(msgBookNotFound)
	}
	if book.Available <= 0 {
		return nil, BusinessRuleError(msgInsufficientStock)
	}

	active, err := tx.Loans().ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing active loans: %w", err)
	}
	if limit := s.policy.MaxConcurrentLoans(user); len(active) >= limit {
		return nil, BusinessRuleError("loan limit of %d reached", limit)
	}

	existing, err := tx.Loans().FindActiveByUserAndISBN(ctx, user.ID, isbn)
	if err != nil {
		return nil, fmt.Errorf("looking up active loan: %w", err)
	}
	if existing != nil {
		return nil, BusinessRuleError("book %s is already on loan to you", isbn)
	}

	days := int(s.policy.LoanDuration(user, book) / day)
	if days <= 0 {
		return nil, BusinessRuleError(msgInvalidDuration)
	}

	if err := book.TakeOne(); err != nil {
		return nil, err
	}
	if err := tx.Books().Save(ctx, book); err != nil {
		return nil, fmt.Errorf("saving book: %w", err)
	}

	loanDate := Day(today)
	loan := &Loan{
		ID:       s.newID(),
		UserID:   user.ID,
		ISBN:     isbn,
		LoanDate: loanDate,
		DueDate:  AddDays(loanDate, days),
	}
	if err := tx.Loans().Save(ctx, loan); err != nil {
		return nil, fmt.Errorf("saving loan: %w", err)
	}
	return loan, nil
}

// ReturnBook closes user's active loan of isbn and puts the copy back.
func (s *LoanService) ReturnBook(ctx context.Context, user *User, isbn string, today time.Time) (*Loan, error) {
	if err := requireLogin(user); err != nil {
		return nil, s.done(ctx, "return", err)
	}
	isbn = strings.TrimSpace(isbn)

	unlock := s.locks.LockAll(userKey(user.ID), bookKey(isbn))
	defer unlock()

	var loan *Loan
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		loan, err = s.returnBook(ctx, tx, user, isbn, today)
		return err
	})
	if err != nil {
		return nil, s.done(ctx, "return", err)
	}
	s.metrics.RecordLoanReturned()
	s.log.InfoContext(ctx, "loan returned", "loan", loan.ID, "user", user.ID, "isbn", isbn,
		"late_days", max(0, DaysBetween(loan.DueDate, today)))
	return loan, nil
}

func (s *LoanService) returnBook(ctx context.Context, tx Store, user *User, isbn string, today time.Time) (*Loan, error) {
	loan, err := tx.Loans().FindActiveByUserAndISBN(ctx, user.ID, isbn)
	if err != nil {
		return nil, fmt.Errorf("looking up active loan: %w", err)
	}
	if loan == nil {
		return nil, NotFoundError("no active loan of %s for this user", isbn)
	}

	book, err := tx.Books().FindByISBN(ctx, isbn)
	if err != nil {
		return nil, fmt.Errorf("looking up book: %w", err)
	}
	if book == nil {
		return nil, NotFoundError(msgBookNotFound)
	}
	if err := book.ReturnOne(); err != nil {
		return nil, err
	}

	loan.MarkReturned(today)
	if err := tx.Loans().Save(ctx, loan); err != nil {
		return nil, fmt.Errorf("saving loan: %w", err)
	}
	if err := tx.Books().Save(ctx, book); err != nil {
		return nil, fmt.Errorf("saving book: %w", err)
	}
	return loan, nil
}

// LoanByTitle resolves title to a single book and lends it.
func (s *LoanService) LoanByTitle(ctx context.Context, user *User, title string, today time.Time) (*Loan, error) {
	book, err := s.ResolveTitle(ctx, title)
	if err != nil {
		return nil, s.done(ctx, "loan", err)
	}
	return s.Loan(ctx, user, book.ISBN, today)
}

// ReturnByTitle resolves title to a single book and returns it.
func (s *LoanService) ReturnByTitle(ctx context.Context, user *User, title string, today time.Time) (*Loan, error) {
	book, err := s.ResolveTitle(ctx, title)
	if err != nil {
		return nil, s.done(ctx, "return", err)
	}
	return s.ReturnBook(ctx, user, book.ISBN, today)
}

// ResolveTitle finds the one book meant by a free-text title: an exact
// case-insensitive match wins, otherwise a substring match. Several candidates
// are reported back so the caller can retry with an ISBN.
func (s *LoanService) ResolveTitle(ctx context.Context, rawTitle string) (*Book, error) {
	title := strings.TrimSpace(rawTitle)
	if title == "" {
		return nil, ValidationError("title is required")
	}

	candidates, err := s.store.Books().FindByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("finding books by title: %w", err)
	}
	if len(candidates) == 0 {
		candidates, err = s.store.Books().SearchByTitle(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("searching books by title: %w", err)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, NotFoundError("no book found for title %q", title)
	case 1:
		return candidates[0], nil
	}

	var sb strings.Builder
	sb.WriteString("several books match this title, retry with an ISBN:")
	for _, b := range candidates {
		fmt.Fprintf(&sb, "\n- %s | %s | ISBN: %s", b.Title, b.Author, b.ISBN)
	}
	return nil, BusinessRuleError("%s", sb.String())
}

// ActiveLoans lists the loans user currently holds.
func (s *LoanService) ActiveLoans(ctx context.Context, user *User) ([]*Loan, error) {
	if err := requireLogin(user); err != nil {
		return nil, s.done(ctx, "active_loans", err)
	}
	loans, err := s.store.Loans().ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, s.done(ctx, "active_loans", fmt.Errorf("listing active loans: %w", err))
	}
	return loans, nil
}
