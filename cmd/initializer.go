package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	firebase "firebase.google.com/go"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"housingBack/internal/booking"
	"housingBack/internal/booking/repo"
	"housingBack/internal/config"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	db       *sql.DB
	rdb      *redis.Client
	booking  *booking.BookingDeps
}

// stdLogger adapts the application loggers to the module Logger interface.
type stdLogger struct {
	infoLog  *log.Logger
	errorLog *log.Logger
}

func (l stdLogger) Infof(format string, args ...interface{}) {
	l.infoLog.Printf(format, args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	l.errorLog.Output(2, fmt.Sprintf(format, args...))
}

func initializeApp(ctx context.Context, cfg config.Config, bookingCfg booking.BookingConfig, infoLog, errorLog *log.Logger) (*application, error) {
	app := &application{errorLog: errorLog, infoLog: infoLog}
	deps := &booking.BookingDeps{
		Logger:     stdLogger{infoLog: infoLog, errorLog: errorLog},
		Config:     bookingCfg,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	if bookingCfg.Store == booking.StoreSQL {
		dialect, err := repo.ParseDialect(cfg.Database.Driver)
		if err != nil {
			return nil, err
		}
		db, err := openDB(dialect.DriverName(), cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		app.db = db
		deps.DB = db
		deps.Dialect = dialect
	}

	if cfg.Redis.Addr != "" {
		app.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.rdb.Ping(ctx).Err(); err != nil {
			errorLog.Printf("redis unavailable, payment status cache disabled: %v", err)
			_ = app.rdb.Close()
			app.rdb = nil
		} else {
			deps.RDB = app.rdb
		}
	}

	if cfg.Firebase.CredentialsFile != "" {
		fb, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("init firebase: %w", err)
		}
		client, err := fb.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firebase messaging: %w", err)
		}
		deps.Push = client
	} else {
		infoLog.Println("FCM credentials not set, push notifications disabled")
	}

	app.booking = deps
	return app, nil
}

func (app *application) close() {
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		return nil, err
	}
	db.SetMaxIdleConns(35)
	db.SetConnMaxIdleTime(5 * time.Minute)
	log.Println("Successfully connected to database")
	return db, nil
}
