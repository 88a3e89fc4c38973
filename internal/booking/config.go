package booking

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/proof"
)

const (
	defaultCancelWindow      = 24 * time.Hour
	defaultTimeZone          = "Asia/Phnom_Penh"
	defaultCurrency          = "USD"
	defaultStatusTimeout     = 5 * time.Second
	defaultStatusCacheTTL    = 30 * time.Second
	defaultReconcileInterval = time.Minute
	defaultReconcileBatch    = 200
	defaultNotifyQueue       = 256
	defaultNotifyWorkers     = 2
	defaultNotifyTimeout     = 10 * time.Second
	defaultQRSize            = 256
	defaultProofDir          = "./uploads/receipts"
	defaultProofURLPrefix    = "/uploads/receipts"
)

// Store modes.
const (
	StoreSQL    = "sql"
	StoreMemory = "memory"
)

// BookingConfig holds runtime configuration for the booking module.
type BookingConfig struct {
	Store             string
	SeedFile          string
	CancelWindow      time.Duration
	TimeZone          string
	VisitSlots        []string
	DefaultCurrency   string
	Merchant          ledger.Merchant
	SettlementURL     string
	SettlementToken   string
	SettlementSecret  string
	StatusTimeout     time.Duration
	BulkBatchSize     int
	StatusCacheTTL    time.Duration
	QRSize            int
	ReconcileInterval time.Duration
	ReconcileBatch    int
	NotifyQueueSize   int
	NotifyWorkers     int
	NotifyTimeout     time.Duration
	ProofDir          string
	ProofURLPrefix    string
	S3                proof.S3Config
	JWTSigningKey     string
}

// LoadBookingConfig reads configuration from environment variables and applies defaults.
func LoadBookingConfig() (BookingConfig, error) {
	cfg := BookingConfig{
		Store:             StoreSQL,
		CancelWindow:      defaultCancelWindow,
		TimeZone:          defaultTimeZone,
		DefaultCurrency:   defaultCurrency,
		Merchant:          ledger.DefaultMerchant(),
		StatusTimeout:     defaultStatusTimeout,
		BulkBatchSize:     ledger.MaxBulk,
		StatusCacheTTL:    defaultStatusCacheTTL,
		QRSize:            defaultQRSize,
		ReconcileInterval: defaultReconcileInterval,
		ReconcileBatch:    defaultReconcileBatch,
		NotifyQueueSize:   defaultNotifyQueue,
		NotifyWorkers:     defaultNotifyWorkers,
		NotifyTimeout:     defaultNotifyTimeout,
		ProofDir:          defaultProofDir,
		ProofURLPrefix:    defaultProofURLPrefix,
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BOOKING_STORE"))); v != "" {
		if v != StoreSQL && v != StoreMemory {
			return BookingConfig{}, fmt.Errorf("BOOKING_STORE must be %q or %q", StoreSQL, StoreMemory)
		}
		cfg.Store = v
	}
	cfg.SeedFile = os.Getenv("BOOKING_SEED_FILE")

	if v, err := readIntEnv("BOOKING_CANCEL_WINDOW_HOURS"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse BOOKING_CANCEL_WINDOW_HOURS: %w", err)
	} else if v != nil {
		cfg.CancelWindow = time.Duration(*v) * time.Hour
	}

	if v := os.Getenv("BOOKING_TIMEZONE"); v != "" {
		cfg.TimeZone = v
	}
	if v := os.Getenv("BOOKING_VISIT_SLOTS"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.VisitSlots = append(cfg.VisitSlots, s)
			}
		}
	}
	if v := os.Getenv("BOOKING_CURRENCY"); v != "" {
		cfg.DefaultCurrency = strings.ToUpper(v)
	}

	cfg.Merchant.AccountID = os.Getenv("MERCHANT_ACCOUNT_ID")
	if v := os.Getenv("MERCHANT_NAME"); v != "" {
		cfg.Merchant.Name = v
		cfg.Merchant.StoreLabel = v
	}
	if v := os.Getenv("MERCHANT_CITY"); v != "" {
		cfg.Merchant.City = v
	}

	cfg.SettlementURL = os.Getenv("SETTLEMENT_URL")
	cfg.SettlementToken = os.Getenv("SETTLEMENT_TOKEN")
	cfg.SettlementSecret = os.Getenv("SETTLEMENT_SECRET")

	if v, err := readIntEnv("SETTLEMENT_TIMEOUT_SECONDS"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse SETTLEMENT_TIMEOUT_SECONDS: %w", err)
	} else if v != nil {
		cfg.StatusTimeout = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("SETTLEMENT_BATCH_SIZE"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse SETTLEMENT_BATCH_SIZE: %w", err)
	} else if v != nil {
		cfg.BulkBatchSize = *v
	}

	if v, err := readIntEnv("PAYMENT_STATUS_CACHE_SECONDS"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse PAYMENT_STATUS_CACHE_SECONDS: %w", err)
	} else if v != nil {
		cfg.StatusCacheTTL = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("QR_SIZE"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse QR_SIZE: %w", err)
	} else if v != nil {
		cfg.QRSize = *v
	}

	if v, err := readIntEnv("RECONCILE_INTERVAL_SECONDS"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse RECONCILE_INTERVAL_SECONDS: %w", err)
	} else if v != nil {
		cfg.ReconcileInterval = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("RECONCILE_BATCH"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse RECONCILE_BATCH: %w", err)
	} else if v != nil {
		cfg.ReconcileBatch = *v
	}

	if v, err := readIntEnv("NOTIFY_QUEUE_SIZE"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse NOTIFY_QUEUE_SIZE: %w", err)
	} else if v != nil {
		cfg.NotifyQueueSize = *v
	}

	if v, err := readIntEnv("NOTIFY_WORKERS"); err != nil {
		return BookingConfig{}, fmt.Errorf("parse NOTIFY_WORKERS: %w", err)
	} else if v != nil {
		cfg.NotifyWorkers = *v
	}

	if v := os.Getenv("PROOF_DIR"); v != "" {
		cfg.ProofDir = v
	}
	if v := os.Getenv("PROOF_URL_PREFIX"); v != "" {
		cfg.ProofURLPrefix = v
	}
	cfg.S3 = proof.S3Config{
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		Region:    os.Getenv("S3_REGION"),
		Bucket:    os.Getenv("S3_BUCKET"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		Folder:    os.Getenv("S3_FOLDER"),
		PublicURL: os.Getenv("S3_PUBLIC_URL"),
	}

	cfg.JWTSigningKey = os.Getenv("JWT_SECRET")
	if cfg.JWTSigningKey == "" {
		return BookingConfig{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Merchant.AccountID == "" {
		return BookingConfig{}, fmt.Errorf("MERCHANT_ACCOUNT_ID is required")
	}
	if cfg.SettlementURL != "" && cfg.SettlementToken == "" {
		return BookingConfig{}, fmt.Errorf("SETTLEMENT_TOKEN is required when SETTLEMENT_URL is set")
	}
	if cfg.CancelWindow <= 0 {
		return BookingConfig{}, fmt.Errorf("cancel window must be positive")
	}
	if cfg.BulkBatchSize <= 0 || cfg.BulkBatchSize > ledger.MaxBulk {
		return BookingConfig{}, fmt.Errorf("SETTLEMENT_BATCH_SIZE must be between 1 and %d", ledger.MaxBulk)
	}
	if cfg.StatusTimeout <= 0 || cfg.ReconcileInterval <= 0 {
		return BookingConfig{}, fmt.Errorf("timeouts and intervals must be positive")
	}
	if cfg.NotifyQueueSize <= 0 || cfg.NotifyWorkers <= 0 || cfg.ReconcileBatch <= 0 {
		return BookingConfig{}, fmt.Errorf("queue size, workers and reconcile batch must be positive")
	}

	return cfg, nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
