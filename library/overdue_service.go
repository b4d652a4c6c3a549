package library

import (
	"context"
	"fmt"
	"time"
)

// OverdueEntry is one line of the overdue report.
type OverdueEntry struct {
	User        *User
	Book        *Book
	DueDate     time.Time
	OverdueDays int
}

// OverdueService builds the administrator overdue report.
type OverdueService struct {
	loans  LoanRepository
	users  UserRepository
	books  BookRepository
	policy LoanPolicy
	observer
}

func NewOverdueService(loans LoanRepository, users UserRepository, books BookRepository, policy LoanPolicy, opts ...Option) *OverdueService {
	return &OverdueService{loans: loans, users: users, books: books, policy: policy, observer: newObserver(opts)}
}

// ListOverdues returns every active loan past its due date as of today, in
// the order the loan repository lists them.
func (s *OverdueService) ListOverdues(ctx context.Context, requester *User, today time.Time) ([]OverdueEntry, error) {
	if err := requireAdmin(requester); err != nil {
		return nil, s.done(ctx, "list_overdues", err)
	}
	entries, err := s.listOverdues(ctx, today)
	if err != nil {
		return nil, s.done(ctx, "list_overdues", err)
	}
	s.metrics.RecordOverdues(len(entries))
	s.log.InfoContext(ctx, "overdue report built", "entries", len(entries), "as_of", Day(today).Format(time.DateOnly))
	return entries, nil
}

func (s *OverdueService) listOverdues(ctx context.Context, today time.Time) ([]OverdueEntry, error) {
	active, err := s.loans.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active loans: %w", err)
	}

	entries := []OverdueEntry{}
	for _, loan := range active {
		if !s.policy.IsOverdue(loan.DueDate, today) {
			continue
		}
		user, err := s.users.FindByID(ctx, loan.UserID)
		if err != nil {
			return nil, fmt.Errorf("looking up user: %w", err)
		}
		if user == nil {
			return nil, NotFoundError("%s: %s (loan %s)", msgUserNotFound, loan.UserID, loan.ID)
		}
		book, err := s.books.FindByISBN(ctx, loan.ISBN)
		if err != nil {
			return nil, fmt.Errorf("looking up book: %w", err)
		}
		if book == nil {
			return nil, NotFoundError("%s: %s (loan %s)", msgBookNotFound, loan.ISBN, loan.ID)
		}
		entries = append(entries, OverdueEntry{
			User:        user,
			Book:        book,
			DueDate:     loan.DueDate,
			OverdueDays: DaysBetween(loan.DueDate, today),
		})
	}
	return entries, nil
}
