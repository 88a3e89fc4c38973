package repo

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/fsm"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/money"
	"housingBack/internal/booking/workflow"
)

// testDB connects to BOOKING_TEST_DATABASE_URL (driver from
// BOOKING_TEST_DATABASE_DRIVER, default mysql; MySQL DSNs need
// parseTime=true) and migrates it. Tests are skipped without it.
func testDB(t *testing.T) (*sql.DB, Dialect) {
	t.Helper()
	dsn := os.Getenv("BOOKING_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BOOKING_TEST_DATABASE_URL not set")
	}
	d, err := ParseDialect(os.Getenv("BOOKING_TEST_DATABASE_DRIVER"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(32)
	if err := Migrate(context.Background(), db, d); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db, d
}

func seedRental(t *testing.T, db *sql.DB, d Dialect) *lifecycle.Booking {
	t.Helper()
	ctx := context.Background()
	propID, err := d.insertID(ctx, db, `INSERT INTO properties (owner_id, title, is_available) VALUES (?, ?, ?)`, 20, "Riverside loft", true)
	if err != nil {
		t.Fatalf("insert property: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	b, _, err := NewBookingsRepo(db, d).Insert(ctx, workflow.InsertSpec{
		PropertyID: propID,
		Build: func(prop lifecycle.Property, _ []lifecycle.Booking) (lifecycle.Creation, error) {
			return lifecycle.Creation{Booking: &lifecycle.Booking{
				PropertyID: prop.ID, RenterID: 10, Kind: fsm.KindRental, Status: fsm.StatusPending,
				StartDate: now, CreatedAt: now, UpdatedAt: now, MemberCount: 1,
				MonthlyRent: money.FromCents(40000),
			}}, nil
		},
	})
	if err != nil {
		t.Fatalf("insert booking: %v", err)
	}
	return b
}

func confirmFn(b *lifecycle.Booking, _ lifecycle.Property) (lifecycle.Effects, error) {
	if b.Status != fsm.StatusPending {
		return lifecycle.Effects{}, apperr.InvalidTransition("booking %d is %s", b.ID, b.Status)
	}
	now := time.Now().UTC().Truncate(time.Second)
	b.Status = fsm.StatusConfirmed
	b.ConfirmedAt = &now
	b.UpdatedAt = now
	return lifecycle.Effects{}, nil
}

func TestSQLConcurrentConfirmSingleWinner(t *testing.T) {
	db, d := testDB(t)
	repo := NewBookingsRepo(db, d)
	b := seedRental(t, db, d)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, _, err := repo.Mutate(context.Background(), b.ID, confirmFn)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrInvalidTransition):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 || invalid != n-1 {
		t.Fatalf("want 1 winner and %d refusals, got %d and %d", n-1, wins, invalid)
	}
}

func TestSQLConcurrentIssueKeepsOneCurrent(t *testing.T) {
	db, d := testDB(t)
	b := seedRental(t, db, d)
	merchant := ledger.DefaultMerchant()
	merchant.AccountID = "housing@bank"
	led := ledger.New(ledger.Config{Merchant: merchant}, NewDescriptorsRepo(db, d), ledger.OfflineSource{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = led.Issue(ctx, b.ID, money.FromCents(int64(5000+100*i)), "USD")
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok == 0 {
		t.Fatal("at least one issuance must succeed")
	}
	var live int
	if err := db.QueryRowContext(ctx, d.Rebind(`SELECT COUNT(*) FROM payment_descriptors
		WHERE booking_id = ? AND superseded_at IS NULL`), b.ID).Scan(&live); err != nil {
		t.Fatal(err)
	}
	if live != 1 {
		t.Fatalf("want exactly one current descriptor, got %d", live)
	}

	if _, _, _, err := NewBookingsRepo(db, d).Mutate(ctx, b.ID, confirmFn); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := led.Issue(ctx, b.ID, money.FromCents(9900), "USD"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("issuing for a confirmed booking: want invalid transition, got %v", err)
	}
}
