package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/money"
)

// Status is the settlement state of a correlation hash.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusUnknown Status = "unknown"
)

// MaxBulk is the largest number of hashes sent in one settlement request.
const MaxBulk = 50

// issueAttempts bounds how often Issue re-reads the current descriptor
// after losing a race with a concurrent issuance.
const issueAttempts = 3

// ErrCurrentChanged is returned by Repository.SaveDescriptor when the
// booking's current descriptor is no longer the one the caller read.
var ErrCurrentChanged = errors.New("ledger: current descriptor changed")

// Descriptor is an issued payment descriptor. Superseded descriptors are
// kept for audit and still answer status checks.
type Descriptor struct {
	Hash         string      `json:"hash"`
	BookingID    int64       `json:"booking_id"`
	Payload      string      `json:"payload"`
	Amount       money.Money `json:"amount"`
	Currency     string      `json:"currency"`
	BillNumber   string      `json:"bill_number"`
	Status       Status      `json:"status"`
	IssuedAt     time.Time   `json:"issued_at"`
	SupersededAt *time.Time  `json:"superseded_at,omitempty"`
	CheckedAt    *time.Time  `json:"checked_at,omitempty"`
}

// Issued is returned by Issue.
type Issued struct {
	Descriptor Descriptor `json:"descriptor"`
	Image      []byte     `json:"-"`
	// Reused is true when the same parameters were already current.
	Reused bool `json:"reused"`
	// Superseded is the hash orphaned by this issuance, if any.
	Superseded string `json:"superseded,omitempty"`
}

// Result is the outcome of a status check. Degraded results come from
// the last known state because the settlement source did not answer.
type Result struct {
	Hash      string    `json:"hash"`
	Status    Status    `json:"status"`
	Degraded  bool      `json:"degraded"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// BulkResult lists the paid hashes among a bulk request.
type BulkResult struct {
	Paid     []string `json:"paid"`
	Degraded bool     `json:"degraded"`
}

// Repository persists descriptors.
type Repository interface {
	// CurrentDescriptor returns the non superseded descriptor of a booking, or nil.
	CurrentDescriptor(ctx context.Context, bookingID int64) (*Descriptor, error)
	// DescriptorByHash returns the descriptor for hash, or nil.
	DescriptorByHash(ctx context.Context, hash string) (*Descriptor, error)
	// SaveDescriptor makes d current for its booking in one atomic unit
	// holding the booking row lock. supersede is the current hash the caller
	// read ("" for none); if another descriptor became current meanwhile it
	// returns ErrCurrentChanged. A booking no longer awaiting payment is
	// refused with an invalid-transition error. Saving an existing hash
	// reactivates it.
	SaveDescriptor(ctx context.Context, d Descriptor, supersede string, at time.Time) error
	// RecordStatus stores the last known status of hash.
	RecordStatus(ctx context.Context, hash string, status Status, at time.Time) error
	// OutstandingDescriptors lists current descriptors whose booking is
	// still awaiting payment.
	OutstandingDescriptors(ctx context.Context, limit int) ([]Descriptor, error)
}

// Source is the settlement network the ledger polls.
type Source interface {
	Status(ctx context.Context, hash string) (Status, error)
	PaidAmong(ctx context.Context, hashes []string) ([]string, error)
}

// StatusCache short-circuits repeated checks of settled hashes.
type StatusCache interface {
	Get(ctx context.Context, hash string) (Status, bool)
	Set(ctx context.Context, hash string, status Status) error
}

// Config tunes the ledger.
type Config struct {
	Merchant      Merchant
	StatusTimeout time.Duration
	BatchSize     int
	QRSize        int
}

// Ledger issues payment descriptors and correlates them with settlements.
// It never mutates bookings.
type Ledger struct {
	cfg    Config
	repo   Repository
	source Source
	cache  StatusCache
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Ledger. cache may be nil.
func New(cfg Config, repo Repository, source Source, cache StatusCache, logger *slog.Logger) *Ledger {
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 5 * time.Second
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBulk {
		cfg.BatchSize = MaxBulk
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{cfg: cfg, repo: repo, source: source, cache: cache, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Issue builds the descriptor for (bookingID, amount, currency). Issuing
// identical parameters twice returns the same hash; changed parameters
// orphan the previous descriptor.
func (l *Ledger) Issue(ctx context.Context, bookingID int64, amount money.Money, currency string) (*Issued, error) {
	log := l.logger.With("op", "ledger.Issue", "booking_id", bookingID)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	params := Params{
		Merchant:   l.cfg.Merchant,
		Amount:     amount,
		Currency:   currency,
		BillNumber: BillNumber(bookingID),
	}
	payload, err := Encode(params)
	if err != nil {
		return nil, err
	}
	hash := Hash(payload)
	img, err := RenderPNG(payload, l.cfg.QRSize)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		issued, err := l.issueOnce(ctx, bookingID, hash, payload, params, img)
		if errors.Is(err, ErrCurrentChanged) {
			if attempt < issueAttempts {
				log.Info("current descriptor changed concurrently, retrying", "attempt", attempt)
				continue
			}
			return nil, &apperr.Error{
				Kind:    apperr.KindConflict,
				Message: "payment descriptor is being reissued concurrently",
				Err:     err,
			}
		}
		if err != nil {
			return nil, err
		}
		if issued.Superseded != "" {
			log.Info("descriptor superseded", "old_hash", issued.Superseded, "new_hash", hash)
		}
		return issued, nil
	}
}

func (l *Ledger) issueOnce(ctx context.Context, bookingID int64, hash, payload string, params Params, img []byte) (*Issued, error) {
	current, err := l.repo.CurrentDescriptor(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Hash == hash {
		return &Issued{Descriptor: *current, Image: img, Reused: true}, nil
	}
	if existing, err := l.repo.DescriptorByHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil && existing.BookingID != bookingID {
		return nil, apperr.Conflict("correlation hash already issued for booking %d", existing.BookingID)
	}

	now := l.now()
	d := Descriptor{
		Hash:       hash,
		BookingID:  bookingID,
		Payload:    payload,
		Amount:     params.Amount,
		Currency:   params.Currency,
		BillNumber: params.BillNumber,
		Status:     StatusPending,
		IssuedAt:   now,
	}
	supersede := ""
	if current != nil {
		supersede = current.Hash
	}
	if err := l.repo.SaveDescriptor(ctx, d, supersede, now); err != nil {
		return nil, err
	}
	return &Issued{Descriptor: d, Image: img, Superseded: supersede}, nil
}

// Current returns the booking's current descriptor, or nil.
func (l *Ledger) Current(ctx context.Context, bookingID int64) (*Descriptor, error) {
	return l.repo.CurrentDescriptor(ctx, bookingID)
}

// CheckStatus asks the settlement source about hash within the configured
// timeout. It never returns an error: an unreachable source yields the last
// known status marked as degraded.
func (l *Ledger) CheckStatus(ctx context.Context, hash string) Result {
	hash = normalizeHash(hash)
	log := l.logger.With("op", "ledger.CheckStatus", "hash", hash)
	now := l.now()
	if hash == "" {
		return Result{Hash: hash, Status: StatusUnknown, CheckedAt: now, Reason: "empty hash"}
	}
	if l.cache != nil {
		if st, ok := l.cache.Get(ctx, hash); ok && st == StatusPaid {
			return Result{Hash: hash, Status: StatusPaid, CheckedAt: now}
		}
	}

	desc, err := l.repo.DescriptorByHash(ctx, hash)
	if err != nil {
		log.Error("load descriptor failed", "err", err)
		desc = nil
	}

	cctx, cancel := context.WithTimeout(ctx, l.cfg.StatusTimeout)
	defer cancel()
	st, err := l.source.Status(cctx, hash)
	if err != nil {
		reason := "settlement source unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "settlement source timed out"
		}
		log.Warn("status check degraded", "err", err)
		last := StatusPending
		if desc != nil && desc.Status != "" && desc.Status != StatusUnknown {
			last = desc.Status
		}
		return Result{Hash: hash, Status: last, Degraded: true, Reason: reason, CheckedAt: now}
	}
	if st == StatusUnknown && desc != nil {
		st = StatusPending
	}
	if st == "" {
		st = StatusUnknown
	}
	if desc != nil {
		if err := l.repo.RecordStatus(ctx, hash, st, now); err != nil {
			log.Error("record status failed", "err", err)
		}
	}
	if l.cache != nil && st == StatusPaid {
		if err := l.cache.Set(ctx, hash, st); err != nil {
			log.Warn("cache status failed", "err", err)
		}
	}
	return Result{Hash: hash, Status: st, CheckedAt: now}
}

// CheckBulk returns which of hashes are paid. Requests are split into
// chunks of at most MaxBulk; chunks the source fails to answer mark the
// result degraded instead of failing it.
func (l *Ledger) CheckBulk(ctx context.Context, hashes []string) BulkResult {
	log := l.logger.With("op", "ledger.CheckBulk")
	seen := make(map[string]struct{}, len(hashes))
	pending := make([]string, 0, len(hashes))
	paidSet := make(map[string]struct{})
	for _, h := range hashes {
		h = normalizeHash(h)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		if l.cache != nil {
			if st, ok := l.cache.Get(ctx, h); ok && st == StatusPaid {
				paidSet[h] = struct{}{}
				continue
			}
		}
		pending = append(pending, h)
	}

	var res BulkResult
	now := l.now()
	for start := 0; start < len(pending); start += l.cfg.BatchSize {
		end := start + l.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		cctx, cancel := context.WithTimeout(ctx, l.cfg.StatusTimeout)
		paid, err := l.source.PaidAmong(cctx, chunk)
		cancel()
		if err != nil {
			log.Warn("bulk chunk degraded", "size", len(chunk), "err", err)
			res.Degraded = true
			continue
		}
		for _, h := range paid {
			h = normalizeHash(h)
			if _, asked := seen[h]; !asked {
				continue
			}
			paidSet[h] = struct{}{}
			if err := l.repo.RecordStatus(ctx, h, StatusPaid, now); err != nil {
				log.Error("record status failed", "hash", h, "err", err)
			}
			if l.cache != nil {
				if err := l.cache.Set(ctx, h, StatusPaid); err != nil {
					log.Warn("cache status failed", "hash", h, "err", err)
				}
			}
		}
	}

	res.Paid = make([]string, 0, len(paidSet))
	for h := range seen {
		if _, ok := paidSet[h]; ok {
			res.Paid = append(res.Paid, h)
		}
	}
	slices.Sort(res.Paid)
	return res
}

// Outstanding lists current descriptors that are not yet paid.
func (l *Ledger) Outstanding(ctx context.Context, limit int) ([]Descriptor, error) {
	return l.repo.OutstandingDescriptors(ctx, limit)
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
