package inmemory_test

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/matryer/is"

	"library-lending/inmemory"
	"library-lending/library"
)

var ctx context.Context = context.Background()

func newStore() *inmemory.Store {
	store, err := inmemory.NewStore()
	if err != nil {
		log.Fatalln(err)
	}
	return store
}

func TestBooks(t *testing.T) {
	store := newStore()

	t.Run("saves and finds a book by isbn", func(t *testing.T) {
		is := is.New(t)

		b := &library.Book{ISBN: "978-1", Title: "자바의 정석", Author: "남궁성", Category: "Programming", Total: 3, Available: 3}
		is.NoErr(store.Books().Save(ctx, b))

		got, err := store.Books().FindByISBN(ctx, "978-1")
		is.NoErr(err)
		is.Equal(got, b)
	})

	t.Run("returned books are copies", func(t *testing.T) {
		is := is.New(t)

		got, err := store.Books().FindByISBN(ctx, "978-1")
		is.NoErr(err)
		got.Available = 0

		again, err := store.Books().FindByISBN(ctx, "978-1")
		is.NoErr(err)
		is.Equal(again.Available, 3)
	})

	t.Run("an unknown isbn yields nil without error", func(t *testing.T) {
		is := is.New(t)

		got, err := store.Books().FindByISBN(ctx, "000")
		is.NoErr(err)
		is.True(got == nil)
	})

	t.Run("save replaces an existing book", func(t *testing.T) {
		is := is.New(t)

		b := &library.Book{ISBN: "978-1", Title: "자바의 정석", Author: "남궁성", Category: "Programming", Total: 5, Available: 4}
		is.NoErr(store.Books().Save(ctx, b))

		all, err := store.Books().List(ctx)
		is.NoErr(err)
		is.Equal(len(all), 1)
		is.Equal(all[0].Total, 5)
		is.Equal(all[0].Available, 4)
	})
}

func TestTitleLookups(t *testing.T) {
	store := newStore()
	is := is.New(t)

	for _, b := range []*library.Book{
		{ISBN: "1", Title: "Clean Code", Total: 1, Available: 1},
		{ISBN: "2", Title: "clean code", Total: 1, Available: 1},
		{ISBN: "3", Title: "The Pragmatic Programmer", Total: 1, Available: 1},
	} {
		is.NoErr(store.Books().Save(ctx, b))
	}

	t.Run("exact title match ignores case", func(t *testing.T) {
		is := is.New(t)

		books, err := store.Books().FindByTitle(ctx, "CLEAN CODE")
		is.NoErr(err)
		is.Equal(len(books), 2)
	})

	t.Run("exact title match does not match substrings", func(t *testing.T) {
		is := is.New(t)

		books, err := store.Books().FindByTitle(ctx, "code")
		is.NoErr(err)
		is.Equal(len(books), 0)
	})

	t.Run("search matches substrings ignoring case", func(t *testing.T) {
		is := is.New(t)

		books, err := store.Books().SearchByTitle(ctx, "PRAGMATIC")
		is.NoErr(err)
		is.Equal(len(books), 1)
		is.Equal(books[0].ISBN, "3")
	})
}

func TestLoans(t *testing.T) {
	store := newStore()
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first := &library.Loan{ID: "b", UserID: "js", ISBN: "978-1", LoanDate: day0, DueDate: day0.AddDate(0, 0, 14)}
	second := &library.Loan{ID: "a", UserID: "js", ISBN: "978-2", LoanDate: day0.AddDate(0, 0, 1), DueDate: day0.AddDate(0, 0, 15)}
	other := &library.Loan{ID: "c", UserID: "admin", ISBN: "978-1", LoanDate: day0, DueDate: day0.AddDate(0, 0, 30)}

	t.Run("finds active loans by user and isbn", func(t *testing.T) {
		is := is.New(t)

		for _, l := range []*library.Loan{first, second, other} {
			is.NoErr(store.Loans().Save(ctx, l))
		}

		got, err := store.Loans().FindActiveByUserAndISBN(ctx, "js", "978-1")
		is.NoErr(err)
		is.Equal(got, first)

		mine, err := store.Loans().ListActiveByUser(ctx, "js")
		is.NoErr(err)
		is.Equal(len(mine), 2)
	})

	t.Run("lists active loans in loan date order", func(t *testing.T) {
		is := is.New(t)

		active, err := store.Loans().ListActive(ctx)
		is.NoErr(err)
		is.Equal(len(active), 3)
		is.Equal(active[2].ID, "a")
	})

	t.Run("a returned loan leaves the active indexes", func(t *testing.T) {
		is := is.New(t)

		returned := *first
		returned.MarkReturned(day0.AddDate(0, 0, 3))
		is.NoErr(store.Loans().Save(ctx, &returned))

		got, err := store.Loans().FindActiveByUserAndISBN(ctx, "js", "978-1")
		is.NoErr(err)
		is.True(got == nil)

		byID, err := store.Loans().FindByID(ctx, "b")
		is.NoErr(err)
		is.True(byID.ReturnedAt != nil)
		is.True(byID.ReturnedAt.Equal(day0.AddDate(0, 0, 3)))

		mine, err := store.Loans().ListActiveByUser(ctx, "js")
		is.NoErr(err)
		is.Equal(len(mine), 1)

		all, err := store.Loans().List(ctx)
		is.NoErr(err)
		is.Equal(len(all), 3)
	})
}

func TestSameDayLoansKeepInsertionOrder(t *testing.T) {
	store := newStore()
	is := is.New(t)
	day0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"c", "a", "b"} {
		is.NoErr(store.Loans().Save(ctx, &library.Loan{ID: id, UserID: "u-" + id, ISBN: "978-1", LoanDate: day0, DueDate: day0}))
	}

	ids := func(loans []*library.Loan) []string {
		out := []string{}
		for _, l := range loans {
			out = append(out, l.ID)
		}
		return out
	}

	all, err := store.Loans().List(ctx)
	is.NoErr(err)
	is.Equal(ids(all), []string{"c", "a", "b"})

	// Updating a loan does not move it to the back.
	returned, err := store.Loans().FindByID(ctx, "c")
	is.NoErr(err)
	returned.MarkReturned(day0)
	is.NoErr(store.Loans().Save(ctx, returned))

	all, err = store.Loans().List(ctx)
	is.NoErr(err)
	is.Equal(ids(all), []string{"c", "a", "b"})

	active, err := store.Loans().ListActive(ctx)
	is.NoErr(err)
	is.Equal(ids(active), []string{"a", "b"})
}

func TestWithinTx(t *testing.T) {
	store := newStore()

	t.Run("commits every write when the callback succeeds", func(t *testing.T) {
		is := is.New(t)

		err := store.WithinTx(ctx, func(tx library.Store) error {
			if err := tx.Books().Save(ctx, &library.Book{ISBN: "1", Title: "Kept", Total: 1, Available: 0}); err != nil {
				return err
			}
			got, err := tx.Books().FindByISBN(ctx, "1")
			is.NoErr(err)
			is.True(got != nil) // reads see the pending write
			return tx.Loans().Save(ctx, &library.Loan{ID: "l1", UserID: "js", ISBN: "1"})
		})
		is.NoErr(err)

		book, err := store.Books().FindByISBN(ctx, "1")
		is.NoErr(err)
		is.True(book != nil)
		loan, err := store.Loans().FindByID(ctx, "l1")
		is.NoErr(err)
		is.True(loan != nil)
	})

	t.Run("discards every write when the callback fails", func(t *testing.T) {
		is := is.New(t)

		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(tx library.Store) error {
			if err := tx.Books().Save(ctx, &library.Book{ISBN: "2", Title: "Dropped", Total: 1, Available: 1}); err != nil {
				return err
			}
			return tx.WithinTx(ctx, func(library.Store) error { return boom })
		})
		is.True(errors.Is(err, boom))

		book, err := store.Books().FindByISBN(ctx, "2")
		is.NoErr(err)
		is.True(book == nil)
	})
}

func TestUsers(t *testing.T) {
	store := newStore()
	is := is.New(t)

	admin := &library.User{ID: "admin", PasswordHash: "{noop}admin", Name: "관리자", Role: library.RoleAdmin}
	is.NoErr(store.Users().Save(ctx, admin))

	got, err := store.Users().FindByID(ctx, "admin")
	is.NoErr(err)
	is.Equal(got, admin)

	missing, err := store.Users().FindByID(ctx, "nobody")
	is.NoErr(err)
	is.True(missing == nil)

	all, err := store.Users().List(ctx)
	is.NoErr(err)
	is.Equal(len(all), 1)
	is.NoErr(store.Close())
}
