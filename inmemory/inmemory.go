package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"library-lending/library"
)

// Store keeps books, loans and users in go-memdb tables. Outside WithinTx every
// call runs in its own transaction; memdb serializes writers and gives readers
// a snapshot.
type Store struct {
	h handle
}

var (
	_ library.Store = (*Store)(nil)
	_ library.Store = txnStore{}
)

func NewStore() (*Store, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"book": {
				Name: "book",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ISBN"},
					},
					"title": {
						Name:         "title",
						Unique:       false,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Title", Lowercase: true},
					},
				},
			},
			"loan": {
				Name: "loan",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					"active": {
						Name:    "active",
						Unique:  false,
						Indexer: &memdb.BoolFieldIndex{Field: "Active"},
					},
					"user_active": {
						Name:   "user_active",
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "UserID"},
								&memdb.BoolFieldIndex{Field: "Active"},
							},
						},
					},
					"user_isbn_active": {
						Name:   "user_isbn_active",
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "UserID"},
								&memdb.StringFieldIndex{Field: "ISBN"},
								&memdb.BoolFieldIndex{Field: "Active"},
							},
						},
					},
				},
			},
			"user": {
				Name: "user",
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}

	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("validating schema: %w", err)
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory database: %w", err)
	}
	return &Store{h: handle{db: db, seq: new(atomic.Uint64)}}, nil
}

func (s *Store) Books() library.BookRepository { return bookTable{s.h} }
func (s *Store) Loans() library.LoanRepository { return loanTable{s.h} }
func (s *Store) Users() library.UserRepository { return userTable{s.h} }

// WithinTx runs fn inside one memdb write transaction. memdb admits a single
// writer, so concurrent WithinTx calls run one after another.
func (s *Store) WithinTx(ctx context.Context, fn func(library.Store) error) error {
	txn := s.h.db.Txn(true)
	defer txn.Abort()

	if err := fn(txnStore{handle{db: s.h.db, txn: txn, seq: s.h.seq}}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Close is a no-op; the tables live as long as the Store.
func (s *Store) Close() error { return nil }

// txnStore is the Store handed to WithinTx callbacks.
type txnStore struct{ h handle }

func (s txnStore) Books() library.BookRepository { return bookTable{s.h} }
func (s txnStore) Loans() library.LoanRepository { return loanTable{s.h} }
func (s txnStore) Users() library.UserRepository { return userTable{s.h} }

// WithinTx joins the transaction already in progress.
func (s txnStore) WithinTx(_ context.Context, fn func(library.Store) error) error { return fn(s) }

func (s txnStore) Close() error { return nil }

// handle gives the tables either a fresh transaction per call or the
// enclosing write transaction.
type handle struct {
	db  *memdb.MemDB
	txn *memdb.Txn
	seq *atomic.Uint64
}

// read returns a transaction to read from and the func that ends it.
func (h handle) read() (*memdb.Txn, func()) {
	if h.txn != nil {
		return h.txn, func() {}
	}
	txn := h.db.Txn(false)
	return txn, txn.Abort
}

// write runs fn in a write transaction, committing at once outside WithinTx.
func (h handle) write(fn func(*memdb.Txn) error) error {
	if h.txn != nil {
		return fn(h.txn)
	}
	txn := h.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (h handle) insert(table string, obj any) error {
	return h.write(func(txn *memdb.Txn) error { return txn.Insert(table, obj) })
}

// -- Books --

type bookTable struct{ h handle }

func (t bookTable) FindByISBN(ctx context.Context, isbn string) (*library.Book, error) {
	txn, done := t.h.read()
	defer done()

	raw, err := txn.First("book", "id", isbn)
	if err != nil {
		return nil, fmt.Errorf("searching book by isbn: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	b := raw.(library.Book)
	return &b, nil
}

func (t bookTable) FindByTitle(ctx context.Context, title string) ([]*library.Book, error) {
	txn, done := t.h.read()
	defer done()

	it, err := txn.Get("book", "title", title)
	if err != nil {
		return nil, fmt.Errorf("searching books by title: %w", err)
	}
	return collectBooks(it, func(*library.Book) bool { return true }), nil
}

func (t bookTable) SearchByTitle(ctx context.Context, keyword string) ([]*library.Book, error) {
	txn, done := t.h.read()
	defer done()

	it, err := txn.Get("book", "id")
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	return collectBooks(it, func(b *library.Book) bool {
		return library.TitleContains(b.Title, keyword)
	}), nil
}

func (t bookTable) Save(ctx context.Context, book *library.Book) error {
	if err := t.h.insert("book", *book); err != nil {
		return fmt.Errorf("storing book on db: %w", err)
	}
	return nil
}

func (t bookTable) List(ctx context.Context) ([]*library.Book, error) {
	txn, done := t.h.read()
	defer done()

	it, err := txn.Get("book", "id")
	if err != nil {
		return nil, fmt.Errorf("listing books from db: %w", err)
	}
	return collectBooks(it, func(*library.Book) bool { return true }), nil
}

func collectBooks(it memdb.ResultIterator, keep func(*library.Book) bool) []*library.Book {
	books := []*library.Book{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		b := obj.(library.Book)
		if keep(&b) {
			books = append(books, &b)
		}
	}
	return books
}

// -- Loans --

// loanRecord flattens a Loan so the active flag can be indexed. Seq is the
// insertion order, used to break ties between loans made on the same day.
type loanRecord struct {
	ID         string
	UserID     string
	ISBN       string
	LoanDate   time.Time
	DueDate    time.Time
	ReturnedAt *time.Time
	Active     bool
	Seq        uint64
}

func adaptLoan(l *library.Loan) loanRecord {
	r := loanRecord{
		ID:       l.ID,
		UserID:   l.UserID,
		ISBN:     l.ISBN,
		LoanDate: l.LoanDate,
		DueDate:  l.DueDate,
		Active:   l.Active(),
	}
	if l.ReturnedAt != nil {
		returnedAt := *l.ReturnedAt
		r.ReturnedAt = &returnedAt
	}
	return r
}

func (r loanRecord) toLoan() *library.Loan {
	l := &library.Loan{
		ID:       r.ID,
		UserID:   r.UserID,
		ISBN:     r.ISBN,
		LoanDate: r.LoanDate,
		DueDate:  r.DueDate,
	}
	if r.ReturnedAt != nil {
		returnedAt := *r.ReturnedAt
		l.ReturnedAt = &returnedAt
	}
	return l
}

type loanTable struct{ h handle }

func (t loanTable) first(index string, args ...any) (*library.Loan, error) {
	txn, done := t.h.read()
	defer done()

	raw, err := txn.First("loan", index, args...)
	if err != nil {
		return nil, fmt.Errorf("searching loan by %s: %w", index, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(loanRecord).toLoan(), nil
}

// list returns the loans under index by loan date, then insertion order.
func (t loanTable) list(index string, args ...any) ([]*library.Loan, error) {
	txn, done := t.h.read()
	defer done()

	it, err := txn.Get("loan", index, args...)
	if err != nil {
		return nil, fmt.Errorf("listing loans by %s: %w", index, err)
	}
	records := []loanRecord{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(loanRecord))
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].LoanDate.Equal(records[j].LoanDate) {
			return records[i].LoanDate.Before(records[j].LoanDate)
		}
		return records[i].Seq < records[j].Seq
	})

	loans := make([]*library.Loan, 0, len(records))
	for _, r := range records {
		loans = append(loans, r.toLoan())
	}
	return loans, nil
}

func (t loanTable) FindByID(ctx context.Context, id string) (*library.Loan, error) {
	return t.first("id", id)
}

func (t loanTable) FindActiveByUserAndISBN(ctx context.Context, userID, isbn string) (*library.Loan, error) {
	return t.first("user_isbn_active", userID, isbn, true)
}

func (t loanTable) ListActiveByUser(ctx context.Context, userID string) ([]*library.Loan, error) {
	return t.list("user_active", userID, true)
}

func (t loanTable) ListActive(ctx context.Context) ([]*library.Loan, error) {
	return t.list("active", true)
}

func (t loanTable) List(ctx context.Context) ([]*library.Loan, error) {
	return t.list("id")
}

// Save upserts loan. An updated loan keeps its original insertion order.
func (t loanTable) Save(ctx context.Context, loan *library.Loan) error {
	err := t.h.write(func(txn *memdb.Txn) error {
		record := adaptLoan(loan)
		raw, err := txn.First("loan", "id", loan.ID)
		if err != nil {
			return err
		}
		if raw != nil {
			record.Seq = raw.(loanRecord).Seq
		} else {
			record.Seq = t.h.seq.Add(1)
		}
		return txn.Insert("loan", record)
	})
	if err != nil {
		return fmt.Errorf("storing loan on db: %w", err)
	}
	return nil
}

// -- Users --

type userTable struct{ h handle }

func (t userTable) FindByID(ctx context.Context, id string) (*library.User, error) {
	txn, done := t.h.read()
	defer done()

	raw, err := txn.First("user", "id", id)
	if err != nil {
		return nil, fmt.Errorf("searching user by id: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	u := raw.(library.User)
	return &u, nil
}

func (t userTable) Save(ctx context.Context, user *library.User) error {
	if err := t.h.insert("user", *user); err != nil {
		return fmt.Errorf("storing user on db: %w", err)
	}
	return nil
}

func (t userTable) List(ctx context.Context) ([]*library.User, error) {
	txn, done := t.h.read()
	defer done()

	it, err := txn.Get("user", "id")
	if err != nil {
		return nil, fmt.Errorf("listing users from db: %w", err)
	}
	users := []*library.User{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		u := obj.(library.User)
		users = append(users, &u)
	}
	return users, nil
}
