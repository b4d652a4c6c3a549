package library

import (
	"strings"
	"time"
)

// Book is one catalog entry together with its copy counts.
// Available never exceeds Total and neither goes negative.
type Book struct {
	ISBN      string `json:"isbn" db:"isbn"`
	Title     string `json:"title" db:"title"`
	Author    string `json:"author" db:"author"`
	Category  string `json:"category" db:"category"`
	Total     int    `json:"total" db:"total"`
	Available int    `json:"available" db:"available"`
}

// NewBook builds a catalog entry with every copy on the shelf.
func NewBook(isbn, title, author, category string, copies int) (*Book, error) {
	if copies < 0 {
		return nil, BusinessRuleError("total copies must not be negative")
	}
	return &Book{
		ISBN:      strings.TrimSpace(isbn),
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		Category:  strings.TrimSpace(category),
		Total:     copies,
		Available: copies,
	}, nil
}

// AddStock puts n new copies into circulation.
func (b *Book) AddStock(n int) error {
	if n <= 0 {
		return BusinessRuleError("stock to add must be greater than zero")
	}
	b.Total += n
	b.Available += n
	return nil
}

// WriteOff permanently removes n damaged or lost copies. Only copies on the
// shelf can be written off.
func (b *Book) WriteOff(n int) error {
	if n <= 0 {
		return BusinessRuleError("write-off quantity must be greater than zero")
	}
	if n > b.Available {
		return BusinessRuleError("write-off quantity %d exceeds available copies %d", n, b.Available)
	}
	b.Total -= n
	b.Available -= n
	return nil
}

// TakeOne marks a copy as lent out.
func (b *Book) TakeOne() error {
	if b.Available <= 0 {
		return BusinessRuleError(msgInsufficientStock)
	}
	b.Available--
	return nil
}

// ReturnOne puts a lent copy back on the shelf.
func (b *Book) ReturnOne() error {
	if b.Available+1 > b.Total {
		return BusinessRuleError(msgCountMismatch)
	}
	b.Available++
	return nil
}

// Loan records one copy of a book lent to one user.
// A nil ReturnedAt means the loan is still active.
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ISBN       string     `json:"isbn"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

// Active reports whether the copy is still out.
func (l *Loan) Active() bool {
	return l.ReturnedAt == nil
}

// MarkReturned closes the loan on the given day.
func (l *Loan) MarkReturned(day time.Time) {
	d := Day(day)
	l.ReturnedAt = &d
}

// Role is the authorization level of a user.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// User is a library account.
type User struct {
	ID           string `json:"id" db:"id"`
	PasswordHash string `json:"-" db:"password_hash"` // Don't serialize password hash
	Name         string `json:"name" db:"name"`
	Role         Role   `json:"role" db:"role"`
}

// IsAdmin reports whether the user holds administrator privileges.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
