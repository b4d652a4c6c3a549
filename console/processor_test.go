package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-lending/inmemory"
	"library-lending/library"
	"library-lending/metrics"
	"library-lending/password"
)

var day0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type harness struct {
	p     *Processor
	out   *bytes.Buffer
	today time.Time
}

// newHarness builds a processor over a seeded in-memory library. answers are
// the lines consumed by prompts, in order.
func newHarness(t *testing.T, store library.Store, answers ...string) *harness {
	t.Helper()
	ctx := context.Background()
	if store == nil {
		s, err := inmemory.NewStore()
		require.NoError(t, err)
		store = s
	}

	reg := prometheus.NewRegistry()
	mgr := library.NewLibraryManager(store, password.NewDelegating(bcrypt.MinCost), library.NewDefaultLoanPolicy(),
		library.WithMetrics(metrics.NewCollector(reg)))
	_, err := mgr.Seed(ctx, password.Noop{}, library.DefaultSeedUsers, library.DefaultSeedBooks)
	require.NoError(t, err)

	h := &harness{out: &bytes.Buffer{}, today: day0}
	input := strings.Join(answers, "\n")
	if input != "" {
		input += "\n"
	}
	h.p = New(mgr, strings.NewReader(input), h.out)
	h.p.Now = func() time.Time { return h.today }
	h.p.Metrics = reg
	return h
}

// run handles line and returns what it printed.
func (h *harness) run(line string) string {
	h.out.Reset()
	h.p.Handle(context.Background(), line)
	return h.out.String()
}

func TestLoanAndOverdueScenario(t *testing.T) {
	h := newHarness(t, nil, "js", "1234", "admin", "admin")

	assert.Contains(t, h.run("login"), "Logged in as 이지섭 (MEMBER)")
	assert.Contains(t, h.run("loan 978-1"), "Loan issued: 자바의 정석 (due 2024-03-15)")
	assert.Contains(t, h.run("myloans"), "978-1 | 자바의 정석 | DUE:2024-03-15")
	assert.Contains(t, h.run("loan 978-1"), "[error] book 978-1 is already on loan to you")
	assert.Contains(t, h.run("logout"), "Logged out.")

	h.today = day0.AddDate(0, 0, 20)
	assert.Contains(t, h.run("login"), "Logged in as 관리자 (ADMIN)")
	assert.Contains(t, h.run("overdue"), "이지섭 | 자바의 정석 | DUE:2024-03-15 | +6 day(s)")
	assert.Contains(t, h.run("books"), "2/3")
}

func TestReturnReportsLateDays(t *testing.T) {
	h := newHarness(t, nil, "js", "1234")

	h.run("login")
	h.run("loan 978-2")
	h.today = day0.AddDate(0, 0, 16)

	out := h.run("return 978-2")
	assert.Contains(t, out, "Returned: 클린 코드")
	assert.Contains(t, out, "2 day(s) overdue")
	assert.Contains(t, h.run("myloans"), "You have no books on loan.")
}

func TestLoanByTitle(t *testing.T) {
	h := newHarness(t, nil, "js", "1234")
	h.run("login")

	assert.Contains(t, h.run("loan 클린 코드"), "Loan issued: 클린 코드")
	assert.Contains(t, h.run("return 클린"), "Returned: 클린 코드")
	assert.Contains(t, h.run("loan haskell"), `[error] no book found for title "haskell"`)
}

func TestCommandsRequireLogin(t *testing.T) {
	h := newHarness(t, nil)

	for _, line := range []string{"loan 978-1", "return 978-1", "myloans", "overdue", "addstock 978-1 1", "addbook"} {
		assert.Contains(t, h.run(line), "[error] login required", line)
	}
	assert.Contains(t, h.run("whoami"), "Not logged in.")
}

func TestAdminCommands(t *testing.T) {
	h := newHarness(t, nil,
		"js", "1234",
		"admin", "admin",
		"978-3", "The Go Programming Language", "Donovan", "Programming", "2",
	)

	h.run("login")
	assert.Contains(t, h.run("addstock 978-1 2"), "[error] administrator privilege required")
	assert.Contains(t, h.run("overdue"), "[error] administrator privilege required")

	h.run("login")
	assert.Contains(t, h.run("whoami"), "관리자 (ID: admin, ADMIN)")
	assert.Contains(t, h.run("addstock 978-1 2"), "Stock added: 978-1 now 5/5")
	assert.Contains(t, h.run("writeoff 978-1 1"), "Written off: 978-1 now 4/4")
	assert.Contains(t, h.run("writeoff 978-1 10"), "[error] write-off quantity 10 exceeds available copies 4")
	assert.Contains(t, h.run("addstock 978-1 many"), "[error] quantity must be a number")
	assert.Contains(t, h.run("addstock 978-1"), "[error] usage: addstock <isbn> <n>")
	assert.Contains(t, h.run("addstock 978-9 1"), "[error] book not found")
	assert.Contains(t, h.run("addbook"), "Added 'The Go Programming Language' (ISBN 978-3) with 2 copies.")
	assert.Contains(t, h.run("search go"), "The Go Programming Language | Donovan | ISBN: 978-3 | available: 2")
	assert.Contains(t, h.run("overdue"), "No overdue loans.")
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t, nil,
		"kim", "pw1", "Kim",
		"kim", "pw1",
		"kim", "wrong",
		"js", "x", "Someone",
	)

	assert.Contains(t, h.run("register"), "Registered member Kim (ID: kim)")
	assert.Contains(t, h.run("login"), "Logged in as Kim (MEMBER)")
	assert.Contains(t, h.run("login"), "[error] id/password mismatch")
	assert.Contains(t, h.run("register"), `[error] id "js" is already taken`)
}

func TestPromptCancelledAtEndOfInput(t *testing.T) {
	h := newHarness(t, nil, "js")
	assert.Contains(t, h.run("login"), "[error] input cancelled")
}

func TestMiscCommands(t *testing.T) {
	h := newHarness(t, nil)

	assert.True(t, h.p.Handle(context.Background(), "   "))
	assert.Contains(t, h.run("HELP"), "loan <isbn|title>")
	assert.Contains(t, h.run("frobnicate"), "Unknown command")
	assert.Contains(t, h.run("search"), "[error] usage: search <keyword>")
	assert.Contains(t, h.run("search nothing-here"), "No books found matching 'nothing-here'.")
	assert.Contains(t, h.run("stats"), "library_overdue_loans")

	h.out.Reset()
	assert.False(t, h.p.Handle(context.Background(), "exit"))
	assert.Contains(t, h.out.String(), "Goodbye!")
}

func TestRunStopsOnExit(t *testing.T) {
	h := newHarness(t, nil)
	h.p = New(h.p.mgr, strings.NewReader("help\nexit\nhelp\n"), h.out)

	require.NoError(t, h.p.Run(context.Background()))
	assert.Equal(t, 1, strings.Count(h.out.String(), "Commands:"))
}

type brokenStore struct{ library.Store }

func (s brokenStore) Books() library.BookRepository { return brokenBooks{s.Store.Books()} }

type brokenBooks struct{ library.BookRepository }

func (brokenBooks) List(context.Context) ([]*library.Book, error) {
	return nil, errors.New("disk on fire")
}

func TestUnclassifiedErrorsAreFlagged(t *testing.T) {
	store, err := inmemory.NewStore()
	require.NoError(t, err)
	h := newHarness(t, brokenStore{store})

	assert.Contains(t, h.run("books"), "[unexpected error] disk on fire")
}

func TestLooksLikeISBN(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"978-1", true},
		{"89-7914-063-X", true},
		{"0306406152", true},
		{"clean code", false},
		{"978 1", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksLikeISBN(tt.in), tt.in)
	}
}
