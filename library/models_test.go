package library_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

func TestNewBook(t *testing.T) {
	b, err := library.NewBook(" 978-1 ", " Clean Code ", "Robert Martin", "Programming", 2)
	require.NoError(t, err)
	assert.Equal(t, "978-1", b.ISBN)
	assert.Equal(t, "Clean Code", b.Title)
	assert.Equal(t, 2, b.Total)
	assert.Equal(t, 2, b.Available)

	_, err = library.NewBook("978-1", "Clean Code", "", "", -1)
	assert.True(t, library.IsKind(err, library.KindBusinessRule))
}

func TestBookStockOperations(t *testing.T) {
	b := &library.Book{ISBN: "1", Title: "T", Total: 2, Available: 2}

	require.NoError(t, b.AddStock(3))
	assert.Equal(t, 5, b.Total)
	assert.Equal(t, 5, b.Available)

	require.NoError(t, b.TakeOne())
	require.NoError(t, b.WriteOff(4))
	assert.Equal(t, 1, b.Total)
	assert.Equal(t, 0, b.Available)

	// The lent copy cannot be written off.
	err := b.WriteOff(1)
	assert.True(t, library.IsKind(err, library.KindBusinessRule))

	for _, n := range []int{0, -1} {
		assert.True(t, library.IsKind(b.AddStock(n), library.KindBusinessRule))
		assert.True(t, library.IsKind(b.WriteOff(n), library.KindBusinessRule))
	}
}

func TestTakeAndReturnKeepCountsInRange(t *testing.T) {
	b := &library.Book{ISBN: "1", Title: "T", Total: 1, Available: 1}

	require.NoError(t, b.TakeOne())
	assert.Equal(t, 0, b.Available)

	err := b.TakeOne()
	require.Error(t, err)
	assert.Equal(t, "insufficient stock", err.Error())
	assert.Equal(t, 0, b.Available)

	require.NoError(t, b.ReturnOne())
	assert.Equal(t, 1, b.Available)

	err = b.ReturnOne()
	require.Error(t, err)
	assert.Equal(t, "count mismatch", err.Error())
	assert.Equal(t, 1, b.Available)
}

func TestLoanMarkReturned(t *testing.T) {
	l := &library.Loan{ID: "l1"}
	assert.True(t, l.Active())

	l.MarkReturned(time.Date(2024, 3, 5, 18, 45, 0, 0, time.UTC))
	require.NotNil(t, l.ReturnedAt)
	assert.False(t, l.Active())
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *l.ReturnedAt)
}

func TestUserIsAdmin(t *testing.T) {
	var nobody *library.User
	assert.False(t, nobody.IsAdmin())
	assert.False(t, (&library.User{Role: library.RoleMember}).IsAdmin())
	assert.True(t, (&library.User{Role: library.RoleAdmin}).IsAdmin())
}

func TestDayArithmetic(t *testing.T) {
	from := time.Date(2024, 2, 27, 23, 59, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 3, library.DaysBetween(from, to))
	assert.Equal(t, -3, library.DaysBetween(to, from))
	assert.Equal(t, time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC), library.AddDays(from, 14))
}
