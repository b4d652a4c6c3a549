package library

import (
	"context"
	"strings"
)

// BookRepository stores catalog entries. Lookups return (nil, nil) when
// nothing matches.
type BookRepository interface {
	FindByISBN(ctx context.Context, isbn string) (*Book, error)
	// FindByTitle returns books whose title equals title, ignoring case.
	FindByTitle(ctx context.Context, title string) ([]*Book, error)
	// SearchByTitle returns books whose title contains keyword, ignoring case.
	SearchByTitle(ctx context.Context, keyword string) ([]*Book, error)
	Save(ctx context.Context, book *Book) error
	List(ctx context.Context) ([]*Book, error)
}

// LoanRepository stores loan records.
type LoanRepository interface {
	FindByID(ctx context.Context, id string) (*Loan, error)
	FindActiveByUserAndISBN(ctx context.Context, userID, isbn string) (*Loan, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Loan, error)
	ListActive(ctx context.Context) ([]*Loan, error)
	Save(ctx context.Context, loan *Loan) error
	List(ctx context.Context) ([]*Loan, error)
}

// UserRepository stores accounts.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	Save(ctx context.Context, user *User) error
	List(ctx context.Context) ([]*User, error)
}

// Store bundles the three repositories a backend provides.
type Store interface {
	Books() BookRepository
	Loans() LoanRepository
	Users() UserRepository
	// WithinTx runs fn against a Store whose reads and writes belong to one
	// transaction. The writes commit together when fn returns nil and are
	// discarded otherwise. fn must not use the outer Store.
	WithinTx(ctx context.Context, fn func(Store) error) error
	Close() error
}

// Credential hashes and verifies passwords.
type Credential interface {
	Encode(raw string) (string, error)
	Matches(raw, hash string) bool
}

// TitleEquals and TitleContains are the title comparisons every backend
// uses, so lookups behave the same regardless of storage.
func TitleEquals(title, query string) bool {
	return strings.ToLower(title) == strings.ToLower(query)
}

func TitleContains(title, keyword string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(keyword))
}
