package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/carlend-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса аренды автомобилей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.OpenSession)

		r.Group(func(r chi.Router) {
			r.Use(h.session.Middleware)

			r.Post("/cars", h.ListCar)
			r.Get("/cars/{assetID}", h.GetCar)
			r.Post("/cars/{assetID}/borrow", h.BorrowCar)
			r.Post("/cars/{assetID}/return", h.ReturnCar)

			r.Post("/customers/associate", h.Associate)
			r.Post("/customers/allowance", h.Allowance)

			r.Post("/score", h.AwardScore)
			r.Get("/score", h.GetScore)

			r.Get("/obligations", h.GetObligations)
			r.Get("/audit", h.GetAudit)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
