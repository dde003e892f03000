/**
 * @description
 * This file sets up the HTTP router for the ledger service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/ledger/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/transfers", h.TransferHandler)
			r.Get("/transactions", h.ListTransactionsHandler)
			r.Get("/accounts", h.ListAccountsHandler)

			r.Post("/deposits", h.DepositHandler)
			r.Post("/withdrawals", h.WithdrawHandler)
			r.Post("/swaps", h.SwapHandler)

			r.Post("/escrows", h.CreateEscrowHandler)
			r.Get("/escrows", h.ListEscrowsHandler)
			r.Get("/escrows/{id}", h.GetEscrowHandler)
			r.Post("/escrows/{id}/release", h.ReleaseEscrowHandler)
			r.Post("/escrows/{id}/dispute", h.DisputeEscrowHandler)

			r.Post("/contacts", h.CreateContactHandler)
			r.Get("/contacts", h.ListContactsHandler)
			r.Delete("/contacts/{id}", h.DeleteContactHandler)

			r.Get("/notifications", h.ListNotificationsHandler)
		})
	})

	return r
}
