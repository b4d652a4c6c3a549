package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database is the SQLite-backed Store.
type Database struct {
	db *sqlx.DB

	saveBookStmt *sqlx.Stmt
	saveLoanStmt *sqlx.Stmt
	saveUserStmt *sqlx.Stmt
}

var (
	_ Store = (*Database)(nil)
	_ Store = txStore{}
)

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	if err := applyMigrations(dbPath); err != nil {
		return nil, err
	}

	// Enable busy_timeout and foreign keys. Transactions start with BEGIN IMMEDIATE
	// so a read-check-write sequence holds the write lock from its first read.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate", dbPath)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	for _, stmt := range []*sqlx.Stmt{d.saveBookStmt, d.saveLoanStmt, d.saveUserStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

func (d *Database) Books() BookRepository { return bookTable{d.pool()} }
func (d *Database) Loans() LoanRepository { return loanTable{d.pool()} }
func (d *Database) Users() UserRepository { return userTable{d.pool()} }

// WithinTx runs fn in one SQLite transaction.
func (d *Database) WithinTx(ctx context.Context, fn func(Store) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(txStore{conn{q: tx, tx: tx, d: d}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// conn is what the tables run against: the pool, or an open transaction.
type conn struct {
	q  sqlx.ExtContext
	tx *sqlx.Tx
	d  *Database
}

func (d *Database) pool() conn { return conn{q: d.db, d: d} }

// stmt binds a prepared statement to the transaction, if any.
func (c conn) stmt(ctx context.Context, st *sqlx.Stmt) *sqlx.Stmt {
	if c.tx == nil {
		return st
	}
	return c.tx.StmtxContext(ctx, st)
}

// txStore is the Store handed to WithinTx callbacks.
type txStore struct{ c conn }

func (s txStore) Books() BookRepository { return bookTable{s.c} }
func (s txStore) Loans() LoanRepository { return loanTable{s.c} }
func (s txStore) Users() UserRepository { return userTable{s.c} }

// WithinTx joins the transaction already in progress.
func (s txStore) WithinTx(_ context.Context, fn func(Store) error) error { return fn(s) }

// Close is a no-op; the transaction ends with the enclosing WithinTx.
func (s txStore) Close() error { return nil }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

func applyMigrations(dbPath string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+dbPath)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.saveBookStmt, err = d.db.Preparex(`
        INSERT INTO books(isbn,title,author,category,total,available) VALUES(?,?,?,?,?,?)
        ON CONFLICT(isbn) DO UPDATE SET
            title=excluded.title, author=excluded.author, category=excluded.category,
            total=excluded.total, available=excluded.available`); err != nil {
		return err
	}
	if d.saveLoanStmt, err = d.db.Preparex(`
        INSERT INTO loans(id,user_id,isbn,loan_date,due_date,returned_at) VALUES(?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET returned_at=excluded.returned_at`); err != nil {
		return err
	}
	if d.saveUserStmt, err = d.db.Preparex(`
        INSERT INTO users(id,password_hash,name,role) VALUES(?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            password_hash=excluded.password_hash, name=excluded.name, role=excluded.role`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

type bookTable struct{ c conn }

const bookColumns = `isbn,title,author,category,total,available`

func (t bookTable) FindByISBN(ctx context.Context, isbn string) (*Book, error) {
	var b Book
	err := sqlx.GetContext(ctx, t.c.q, &b, `SELECT `+bookColumns+` FROM books WHERE isbn=?`, isbn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindByTitle and SearchByTitle filter in Go rather than SQL: SQLite's lower()
// and NOCASE only fold ASCII, and titles are often not ASCII.
func (t bookTable) FindByTitle(ctx context.Context, title string) ([]*Book, error) {
	return t.filter(ctx, func(b *Book) bool { return TitleEquals(b.Title, title) })
}

func (t bookTable) SearchByTitle(ctx context.Context, keyword string) ([]*Book, error) {
	return t.filter(ctx, func(b *Book) bool { return TitleContains(b.Title, keyword) })
}

func (t bookTable) filter(ctx context.Context, keep func(*Book) bool) ([]*Book, error) {
	all, err := t.List(ctx)
	if err != nil {
		return nil, err
	}
	books := []*Book{}
	for _, b := range all {
		if keep(b) {
			books = append(books, b)
		}
	}
	return books, nil
}

func (t bookTable) Save(ctx context.Context, b *Book) error {
	_, err := t.c.stmt(ctx, t.c.d.saveBookStmt).ExecContext(ctx, b.ISBN, b.Title, b.Author, b.Category, b.Total, b.Available)
	return err
}

func (t bookTable) List(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	if err := sqlx.SelectContext(ctx, t.c.q, &books, `SELECT `+bookColumns+` FROM books ORDER BY rowid`); err != nil {
		return nil, err
	}
	return books, nil
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

type loanTable struct{ c conn }

// loanRow mirrors the loans table; dates are stored as YYYY-MM-DD text.
type loanRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	ISBN       string         `db:"isbn"`
	LoanDate   string         `db:"loan_date"`
	DueDate    string         `db:"due_date"`
	ReturnedAt sql.NullString `db:"returned_at"`
}

const loanColumns = `id,user_id,isbn,loan_date,due_date,returned_at`

func (r loanRow) toLoan() (*Loan, error) {
	loanDate, err := time.Parse(time.DateOnly, r.LoanDate)
	if err != nil {
		return nil, fmt.Errorf("loan %s: bad loan_date: %w", r.ID, err)
	}
	dueDate, err := time.Parse(time.DateOnly, r.DueDate)
	if err != nil {
		return nil, fmt.Errorf("loan %s: bad due_date: %w", r.ID, err)
	}
	loan := &Loan{ID: r.ID, UserID: r.UserID, ISBN: r.ISBN, LoanDate: loanDate, DueDate: dueDate}
	if r.ReturnedAt.Valid {
		returnedAt, err := time.Parse(time.DateOnly, r.ReturnedAt.String)
		if err != nil {
			return nil, fmt.Errorf("loan %s: bad returned_at: %w", r.ID, err)
		}
		loan.ReturnedAt = &returnedAt
	}
	return loan, nil
}

func (t loanTable) get(ctx context.Context, query string, args ...any) (*Loan, error) {
	var r loanRow
	err := sqlx.GetContext(ctx, t.c.q, &r, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.toLoan()
}

func (t loanTable) selectLoans(ctx context.Context, query string, args ...any) ([]*Loan, error) {
	var rows []loanRow
	if err := sqlx.SelectContext(ctx, t.c.q, &rows, query, args...); err != nil {
		return nil, err
	}
	loans := make([]*Loan, 0, len(rows))
	for _, r := range rows {
		loan, err := r.toLoan()
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

func (t loanTable) FindByID(ctx context.Context, id string) (*Loan, error) {
	return t.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=?`, id)
}

func (t loanTable) FindActiveByUserAndISBN(ctx context.Context, userID, isbn string) (*Loan, error) {
	return t.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE user_id=? AND isbn=? AND returned_at IS NULL`, userID, isbn)
}

func (t loanTable) ListActiveByUser(ctx context.Context, userID string) ([]*Loan, error) {
	return t.selectLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE user_id=? AND returned_at IS NULL ORDER BY loan_date, rowid`, userID)
}

func (t loanTable) ListActive(ctx context.Context) ([]*Loan, error) {
	return t.selectLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE returned_at IS NULL ORDER BY loan_date, rowid`)
}

func (t loanTable) List(ctx context.Context) ([]*Loan, error) {
	return t.selectLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY loan_date, rowid`)
}

func (t loanTable) Save(ctx context.Context, l *Loan) error {
	var returnedAt sql.NullString
	if l.ReturnedAt != nil {
		returnedAt = sql.NullString{String: l.ReturnedAt.Format(time.DateOnly), Valid: true}
	}
	_, err := t.c.stmt(ctx, t.c.d.saveLoanStmt).ExecContext(ctx, l.ID, l.UserID, l.ISBN,
		l.LoanDate.Format(time.DateOnly), l.DueDate.Format(time.DateOnly), returnedAt)
	return err
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type userTable struct{ c conn }

func (t userTable) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := sqlx.GetContext(ctx, t.c.q, &u, `SELECT id,password_hash,name,role FROM users WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t userTable) Save(ctx context.Context, u *User) error {
	_, err := t.c.stmt(ctx, t.c.d.saveUserStmt).ExecContext(ctx, u.ID, u.PasswordHash, u.Name, string(u.Role))
	return err
}

func (t userTable) List(ctx context.Context) ([]*User, error) {
	users := []*User{}
	if err := sqlx.SelectContext(ctx, t.c.q, &users, `SELECT id,password_hash,name,role FROM users ORDER BY rowid`); err != nil {
		return nil, err
	}
	return users, nil
}
