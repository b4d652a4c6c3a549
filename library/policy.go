package library

import (
	"strings"
	"time"
)

// LoanPolicy decides how long a copy may be kept and how many copies a user
// may hold at once. LoanService only talks to this interface, so alternative
// rule sets can be swapped in at wiring time.
type LoanPolicy interface {
	LoanDuration(user *User, book *Book) time.Duration
	MaxConcurrentLoans(user *User) int
	IsOverdue(dueDate, today time.Time) bool
}

// DefaultLoanPolicy gives members and administrators separate durations and caps.
type DefaultLoanPolicy struct {
	MemberDuration time.Duration
	AdminDuration  time.Duration
	MemberMaxLoans int
	AdminMaxLoans  int
}

// NewDefaultLoanPolicy returns the stock rules: members keep a book for 14 days
// and may hold 5, administrators keep one for 30 days and may hold 99.
func NewDefaultLoanPolicy() *DefaultLoanPolicy {
	return &DefaultLoanPolicy{
		MemberDuration: 14 * day,
		AdminDuration:  30 * day,
		MemberMaxLoans: 5,
		AdminMaxLoans:  99,
	}
}

func (p *DefaultLoanPolicy) LoanDuration(user *User, _ *Book) time.Duration {
	if user.IsAdmin() {
		return p.AdminDuration
	}
	return p.MemberDuration
}

func (p *DefaultLoanPolicy) MaxConcurrentLoans(user *User) int {
	if user.IsAdmin() {
		return p.AdminMaxLoans
	}
	return p.MemberMaxLoans
}

func (p *DefaultLoanPolicy) IsOverdue(dueDate, today time.Time) bool {
	return OverdueAfter(dueDate, today)
}

// OverdueAfter is the usual overdue rule: today is strictly after the due date.
func OverdueAfter(dueDate, today time.Time) bool {
	return Day(today).After(Day(dueDate))
}

// CategoryExtensionPolicy lengthens loans for selected categories on top of
// another policy, e.g. for a promotion. Caps and the overdue rule are unchanged.
type CategoryExtensionPolicy struct {
	LoanPolicy
	Extra map[string]time.Duration
}

// NewCategoryExtensionPolicy wraps base. Category names are matched
// case-insensitively.
func NewCategoryExtensionPolicy(base LoanPolicy, extra map[string]time.Duration) *CategoryExtensionPolicy {
	normalized := make(map[string]time.Duration, len(extra))
	for category, d := range extra {
		normalized[strings.ToLower(strings.TrimSpace(category))] = d
	}
	return &CategoryExtensionPolicy{LoanPolicy: base, Extra: normalized}
}

func (p *CategoryExtensionPolicy) LoanDuration(user *User, book *Book) time.Duration {
	d := p.LoanPolicy.LoanDuration(user, book)
	if book != nil {
		d += p.Extra[strings.ToLower(book.Category)]
	}
	return d
}
