package booking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	bookinghttp "housingBack/internal/booking/http"
	"housingBack/internal/booking/identity"
	"housingBack/internal/booking/ledger"
	"housingBack/internal/booking/lifecycle"
	"housingBack/internal/booking/memstore"
	"housingBack/internal/booking/notify"
	"housingBack/internal/booking/pay"
	"housingBack/internal/booking/proof"
	"housingBack/internal/booking/repo"
	"housingBack/internal/booking/schedule"
	"housingBack/internal/booking/timeutil"
	"housingBack/internal/booking/workflow"
)

const fallbackOffset = 7 * 60 * 60

type moduleState struct {
	engine     *workflow.Engine
	ledger     *ledger.Ledger
	dispatcher *notify.Dispatcher
	hub        *notify.Hub
	identity   *identity.Manager
	server     *bookinghttp.Handler
	localProof *proof.DirStore
	memory     *memstore.Store
}

type tokenRegistry interface {
	notify.TokenSource
	bookinghttp.DeviceRegistry
}

func ensureModule(deps *BookingDeps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}
	cfg := deps.Config

	loc := timeutil.SetLocation(cfg.TimeZone, fallbackOffset)
	grid, err := schedule.NewGrid(cfg.VisitSlots, loc)
	if err != nil {
		return nil, fmt.Errorf("booking: visit slots: %w", err)
	}
	svc := lifecycle.NewService(lifecycle.Config{
		CancelWindow:    cfg.CancelWindow,
		Location:        loc,
		DefaultCurrency: cfg.DefaultCurrency,
	})

	state := &moduleState{}
	var (
		store       workflow.Store
		props       workflow.Properties
		descriptors ledger.Repository
		tokens      tokenRegistry
	)
	switch cfg.Store {
	case StoreMemory:
		mem := memstore.New()
		if cfg.SeedFile != "" {
			seeded, err := loadSeedProperties(cfg.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("booking: %w", err)
			}
			for _, p := range seeded {
				mem.PutProperty(p)
			}
			deps.Logger.Infof("booking: seeded %d properties from %s", len(seeded), cfg.SeedFile)
		} else {
			deps.Logger.Infof("booking: memory store started without BOOKING_SEED_FILE, no properties are bookable")
		}
		store, props, descriptors, tokens = mem, mem, mem, mem
		state.memory = mem
	default:
		store = repo.NewBookingsRepo(deps.DB, deps.Dialect)
		props = repo.NewPropertiesRepo(deps.DB, deps.Dialect)
		descriptors = repo.NewDescriptorsRepo(deps.DB, deps.Dialect)
		tokens = repo.NewDeviceTokensRepo(deps.DB, deps.Dialect)
	}

	logger := slog.Default().With("module", "booking")
	var source ledger.Source = ledger.OfflineSource{}
	if cfg.SettlementURL != "" {
		source = pay.NewClient(deps.HTTPClient, cfg.SettlementURL, cfg.SettlementToken, cfg.SettlementSecret, logger)
	} else {
		deps.Logger.Infof("booking: SETTLEMENT_URL not set, payment statuses stay pending")
	}
	var cache ledger.StatusCache
	if deps.RDB != nil {
		cache = ledger.NewRedisCache(deps.RDB, cfg.StatusCacheTTL)
	}
	state.ledger = ledger.New(ledger.Config{
		Merchant:      cfg.Merchant,
		StatusTimeout: cfg.StatusTimeout,
		BatchSize:     cfg.BulkBatchSize,
		QRSize:        cfg.QRSize,
	}, descriptors, source, cache, logger).WithClock(timeutil.Now)

	state.identity, err = identity.NewManager(cfg.JWTSigningKey)
	if err != nil {
		return nil, fmt.Errorf("booking: identity: %w", err)
	}
	state.hub = notify.NewHub(deps.Logger, func(r *http.Request) (int64, error) {
		actor, err := state.identity.FromRequest(r)
		return actor.ID, err
	})
	sinks := []notify.Sink{state.hub}
	if deps.Push != nil {
		sinks = append(sinks, notify.NewFCMSink(deps.Push, tokens))
	}
	state.dispatcher = notify.NewDispatcher(deps.Logger, cfg.NotifyQueueSize, cfg.NotifyTimeout, sinks...)

	state.engine, err = workflow.New(workflow.Deps{
		Store:      store,
		Properties: props,
		Service:    svc,
		Grid:       grid,
		Ledger:     state.ledger,
		Notifier:   state.dispatcher,
		Logger:     deps.Logger,
		Now:        timeutil.Now,
	})
	if err != nil {
		return nil, err
	}

	proofs := deps.Proofs
	if proofs == nil {
		if cfg.S3.Bucket != "" {
			s3Store, err := proof.NewS3Store(cfg.S3)
			if err != nil {
				return nil, fmt.Errorf("booking: proof storage: %w", err)
			}
			proofs = s3Store
		} else {
			state.localProof = proof.NewDirStore(cfg.ProofDir, cfg.ProofURLPrefix)
			proofs = state.localProof
		}
	}

	state.server = &bookinghttp.Handler{
		Engine:  state.engine,
		Proofs:  proofs,
		Devices: tokens,
		Logger:  deps.Logger,
	}
	deps.module = state
	return state, nil
}

// RegisterBookingRoutes wires HTTP and WebSocket routes into the provided mux.
// standard is the middleware chain shared with the rest of the API; the
// module appends its own authentication. Locally stored receipts are served
// behind authentication only, outside standard, so they keep their own
// content type.
func RegisterBookingRoutes(mux *pat.PatternServeMux, standard alice.Chain, deps *BookingDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	auth := standard.Append(module.identity.Middleware)
	module.server.Register(mux, auth, module.hub.ServeWS)
	if module.localProof != nil {
		prefix := strings.TrimSuffix(deps.Config.ProofURLPrefix, "/")
		files := alice.New(module.identity.Middleware)
		mux.Get(prefix+"/", files.Then(http.StripPrefix(prefix, http.FileServer(http.Dir(deps.Config.ProofDir)))))
	}
	return nil
}

// StartBookingWorkers launches the notification workers and the payment
// reconciliation sweep.
func StartBookingWorkers(ctx context.Context, deps *BookingDeps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	go module.dispatcher.Run(ctx, deps.Config.NotifyWorkers)
	go module.engine.RunReconciler(ctx, deps.Config.ReconcileInterval, deps.Config.ReconcileBatch)
	return nil
}

// Migrate creates the booking tables when running against SQL.
func Migrate(ctx context.Context, deps *BookingDeps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	if deps.Config.Store == StoreMemory {
		return nil
	}
	return repo.Migrate(ctx, deps.DB, deps.Dialect)
}

// SeedProperty registers a property in memory mode. It is a no-op against
// SQL, where properties come from the listings tables.
func SeedProperty(deps *BookingDeps, p lifecycle.Property) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	if module.memory != nil {
		module.memory.PutProperty(p)
	}
	return nil
}
