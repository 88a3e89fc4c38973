package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"housingBack/internal/booking"
)

func (app *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)

	mux := pat.New()

	mux.Get("/healthz", http.HandlerFunc(app.health))

	// Bookings, payments and the live event socket
	if err := booking.RegisterBookingRoutes(mux, alice.New(makeResponseJSON), app.booking); err != nil {
		return nil, err
	}

	return standardMiddleware.Then(mux), nil
}
