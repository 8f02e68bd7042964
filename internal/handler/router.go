package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/lottery-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лотерей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Encoding", custommiddleware.RequestIDHeader},
		ExposedHeaders: []string{custommiddleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/lotteries", func(r chi.Router) {
		r.Get("/", h.ListLotteries)
		r.Post("/", h.CreateLottery)
		r.Get("/{userID}", h.LotteriesOfUser)
		r.Post("/draw/{lotteryID}", h.Draw)
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.Get("/lottery/{lotteryID}", h.UsersOfLottery)
	})

	r.Route("/lotteryentries/{userID}/{lotteryID}", func(r chi.Router) {
		r.Get("/", h.GetEntry)
		r.Post("/", h.RegisterEntry)
		r.Delete("/", h.WithdrawEntry)
	})

	r.Post("/reset", h.Reset)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
