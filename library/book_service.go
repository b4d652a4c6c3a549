package library

import (
	"context"
	"fmt"
	"strings"
)

// BookService holds the administrator-only catalog operations.
type BookService struct {
	store Store
	observer
}

func NewBookService(store Store, opts ...Option) *BookService {
	return &BookService{store: store, observer: newObserver(opts)}
}

func requireAdmin(requester *User) error {
	if !requester.IsAdmin() {
		return AuthError(msgAdminRequired)
	}
	return nil
}

// RegisterBook adds a new catalog entry. ISBNs must be unique.
func (s *BookService) RegisterBook(ctx context.Context, requester *User, book *Book) error {
	if err := requireAdmin(requester); err != nil {
		return s.done(ctx, "register_book", err)
	}
	if book == nil || strings.TrimSpace(book.ISBN) == "" {
		return s.done(ctx, "register_book", ValidationError("isbn is required"))
	}
	book.ISBN = strings.TrimSpace(book.ISBN)
	if strings.TrimSpace(book.Title) == "" {
		return s.done(ctx, "register_book", ValidationError("title is required"))
	}
	if book.Total < 0 || book.Available < 0 || book.Available > book.Total {
		return s.done(ctx, "register_book", BusinessRuleError("invalid copy counts %d/%d", book.Available, book.Total))
	}

	unlock := s.locks.Lock(bookKey(book.ISBN))
	defer unlock()

	err := s.store.WithinTx(ctx, func(tx Store) error {
		existing, err := tx.Books().FindByISBN(ctx, book.ISBN)
		if err != nil {
			return fmt.Errorf("looking up book: %w", err)
		}
		if existing != nil {
			return BusinessRuleError("isbn %s already exists", book.ISBN)
		}
		if err := tx.Books().Save(ctx, book); err != nil {
			return fmt.Errorf("saving book: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.done(ctx, "register_book", err)
	}
	s.metrics.RecordStockChange("register", book.Total)
	s.log.InfoContext(ctx, "book registered", "isbn", book.ISBN, "title", book.Title, "copies", book.Total, "by", requester.ID)
	return nil
}

// AddStock puts n more copies of isbn into circulation.
func (s *BookService) AddStock(ctx context.Context, requester *User, isbn string, n int) (*Book, error) {
	book, err := s.adjust(ctx, requester, "add_stock", isbn, n, (*Book).AddStock)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStockChange("add_stock", n)
	return book, nil
}

// WriteOff removes n damaged or lost copies of isbn.
func (s *BookService) WriteOff(ctx context.Context, requester *User, isbn string, n int) (*Book, error) {
	book, err := s.adjust(ctx, requester, "write_off", isbn, n, (*Book).WriteOff)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStockChange("write_off", -n)
	return book, nil
}

func (s *BookService) adjust(ctx context.Context, requester *User, operation, isbn string, n int, apply func(*Book, int) error) (*Book, error) {
	if err := requireAdmin(requester); err != nil {
		return nil, s.done(ctx, operation, err)
	}
	if n <= 0 {
		return nil, s.done(ctx, operation, ValidationError("quantity must be greater than zero"))
	}
	isbn = strings.TrimSpace(isbn)

	unlock := s.locks.Lock(bookKey(isbn))
	defer unlock()

	var book *Book
	err := s.store.WithinTx(ctx, func(tx Store) error {
		var err error
		book, err = tx.Books().FindByISBN(ctx, isbn)
		if err != nil {
			return fmt.Errorf("looking up book: %w", err)
		}
		if book == nil {
			return NotFoundError(msgBookNotFound)
		}
		if err := apply(book, n); err != nil {
			return err
		}
		if err := tx.Books().Save(ctx, book); err != nil {
			return fmt.Errorf("saving book: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.done(ctx, operation, err)
	}
	s.log.InfoContext(ctx, "stock changed", "operation", operation, "isbn", isbn, "quantity", n,
		"total", book.Total, "available", book.Available, "by", requester.ID)
	return book, nil
}
