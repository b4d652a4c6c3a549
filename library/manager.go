package library

import (
	"context"
	"fmt"
	"strings"
)

// LibraryManager is a thin façade over the services, keeping CLI code simple.
// It owns the store and shares one KeyLocker between the services.
type LibraryManager struct {
	store Store

	Auth     *AuthService
	Books    *BookService
	Loans    *LoanService
	Overdues *OverdueService
}

// NewLibraryManager wires the services on top of store.
func NewLibraryManager(store Store, credential Credential, policy LoanPolicy, opts ...Option) *LibraryManager {
	opts = append([]Option{WithLocker(NewKeyLocker())}, opts...)
	return &LibraryManager{
		store:    store,
		Auth:     NewAuthService(store.Users(), credential, opts...),
		Books:    NewBookService(store, opts...),
		Loans:    NewLoanService(store, policy, opts...),
		Overdues: NewOverdueService(store.Loans(), store.Users(), store.Books(), policy, opts...),
	}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// ------------------ Catalog ------------------

// SearchBooks returns books whose title contains keyword, ignoring case.
func (lm *LibraryManager) SearchBooks(ctx context.Context, keyword string) ([]*Book, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []*Book{}, nil
	}
	return lm.store.Books().SearchByTitle(ctx, keyword)
}

func (lm *LibraryManager) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return lm.store.Books().List(ctx)
}

func (lm *LibraryManager) GetBook(ctx context.Context, isbn string) (*Book, error) {
	return lm.store.Books().FindByISBN(ctx, isbn)
}

// ------------------ Seeding ------------------

// SeedUser is an account created by Seed with a raw password.
type SeedUser struct {
	ID       string
	Password string
	Name     string
	Role     Role
}

// DefaultSeedBooks and DefaultSeedUsers are the demo data a fresh library starts with.
var (
	DefaultSeedBooks = []Book{
		{ISBN: "978-1", Title: "자바의 정석", Author: "남궁성", Category: "Programming", Total: 3, Available: 3},
		{ISBN: "978-2", Title: "클린 코드", Author: "로버트 마틴", Category: "Programming", Total: 2, Available: 2},
	}
	DefaultSeedUsers = []SeedUser{
		{ID: "admin", Password: "admin", Name: "관리자", Role: RoleAdmin},
		{ID: "js", Password: "1234", Name: "이지섭", Role: RoleMember},
	}
)

// Seed stores the given users and books unless the store already has users.
// It reports whether anything was written.
func (lm *LibraryManager) Seed(ctx context.Context, credential Credential, users []SeedUser, books []Book) (bool, error) {
	existing, err := lm.store.Users().List(ctx)
	if err != nil {
		return false, fmt.Errorf("listing users: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	for _, u := range users {
		hash, err := credential.Encode(u.Password)
		if err != nil {
			return false, fmt.Errorf("encoding password for %s: %w", u.ID, err)
		}
		user := &User{ID: u.ID, PasswordHash: hash, Name: u.Name, Role: u.Role}
		if err := lm.store.Users().Save(ctx, user); err != nil {
			return false, fmt.Errorf("seeding user %s: %w", u.ID, err)
		}
	}
	for i := range books {
		b := books[i]
		if err := lm.store.Books().Save(ctx, &b); err != nil {
			return false, fmt.Errorf("seeding book %s: %w", b.ISBN, err)
		}
	}
	lm.Auth.log.InfoContext(ctx, "store seeded", "users", len(users), "books", len(books))
	return true, nil
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-12s %-30s %-20s %-14s %3d/%-3d", b.ISBN, b.Title, b.Author, b.Category, b.Available, b.Total)
}
