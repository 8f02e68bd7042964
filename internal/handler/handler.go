// Package handler содержит HTTP-обработчики API сервиса лотерей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/lottery-system/internal/model"
	"github.com/mmeshcher/lottery-system/internal/repository"
	"github.com/mmeshcher/lottery-system/internal/service"
	"github.com/mmeshcher/lottery-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterEntry(ctx context.Context, userID, lotteryID string) error
	WithdrawEntry(ctx context.Context, userID, lotteryID string) error
	IsRegistered(ctx context.Context, userID, lotteryID string) (*model.Registration, error)
	Draw(ctx context.Context, lotteryID string) (*model.DrawResult, error)
	LotteriesOf(ctx context.Context, userID string) ([]model.Lottery, error)
	UsersOf(ctx context.Context, lotteryID string) ([]model.User, error)
	ListLotteries(ctx context.Context) ([]model.Lottery, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateLottery(ctx context.Context, l model.Lottery) error
	CreateUser(ctx context.Context, u model.User) error
	Reset(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса лотерей.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет ошибку сервиса HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, repository.ErrLotteryNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicateEntry),
		errors.Is(err, repository.ErrLotteryAlreadyDrawn),
		errors.Is(err, repository.ErrLotteryExists),
		errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInvalidCapacity):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrResetDisabled):
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает клиенту по классу ошибки. Внутренние сбои пишутся в журнал,
// а клиенту уходит только текст статуса.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err), zap.Int("status", status))...)
		h.writeMessage(w, status, http.StatusText(status))
		return
	}

	h.writeMessage(w, status, err.Error())
}

func (h *Handler) pathIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id := chi.URLParam(r, name)
		if !validation.IsValidID(id) {
			h.writeMessage(w, http.StatusBadRequest, "invalid "+name)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// ---------- Lotteries ----------

// ListLotteries возвращает все лотереи.
func (h *Handler) ListLotteries(w http.ResponseWriter, r *http.Request) {
	lotteries, err := h.service.ListLotteries(r.Context())
	if err != nil {
		h.writeError(w, "list lotteries", err)
		return
	}
	h.writeJSON(w, http.StatusOK, lotteries)
}

type createLotteryRequest struct {
	ID       string `json:"lotteryId"`
	Name     string `json:"lotteryName"`
	Capacity *int   `json:"ticketsAvailable"`
}

// CreateLottery создаёт лотерею.
func (h *Handler) CreateLottery(w http.ResponseWriter, r *http.Request) {
	var req createLotteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if !validation.IsValidID(req.ID) || !validation.IsValidName(req.Name) || req.Capacity == nil {
		h.writeMessage(w, http.StatusBadRequest, "lotteryId, lotteryName and ticketsAvailable are required")
		return
	}

	l := model.Lottery{ID: req.ID, Name: req.Name, Capacity: *req.Capacity}
	if err := h.service.CreateLottery(r.Context(), l); err != nil {
		h.writeError(w, "create lottery", err, zap.String("lotteryID", req.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, l)
}

// LotteriesOfUser возвращает лотереи, в которые записан пользователь.
func (h *Handler) LotteriesOfUser(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "userID")
	if !ok {
		return
	}

	lotteries, err := h.service.LotteriesOf(r.Context(), ids[0])
	if err != nil {
		h.writeError(w, "lotteries of user", err, zap.String("userID", ids[0]))
		return
	}
	h.writeJSON(w, http.StatusOK, lotteries)
}

// Draw проводит розыгрыш лотереи и возвращает победителей.
func (h *Handler) Draw(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "lotteryID")
	if !ok {
		return
	}

	res, err := h.service.Draw(r.Context(), ids[0])
	if err != nil {
		h.writeError(w, "draw", err, zap.String("lotteryID", ids[0]))
		return
	}
	h.writeJSON(w, http.StatusOK, res.Winners)
}

// ---------- Users ----------

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, "list users", err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// CreateUser создаёт пользователя.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		h.writeMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if !validation.IsValidID(u.ID) || !validation.IsValidName(u.Name) {
		h.writeMessage(w, http.StatusBadRequest, "userId and name are required")
		return
	}

	if err := h.service.CreateUser(r.Context(), u); err != nil {
		h.writeError(w, "create user", err, zap.String("userID", u.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, u)
}

// UsersOfLottery возвращает участников лотереи или её победителей после розыгрыша.
func (h *Handler) UsersOfLottery(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "lotteryID")
	if !ok {
		return
	}

	users, err := h.service.UsersOf(r.Context(), ids[0])
	if err != nil {
		h.writeError(w, "users of lottery", err, zap.String("lotteryID", ids[0]))
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

// ---------- Entries ----------

// GetEntry сообщает, записан ли пользователь в лотерею.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "userID", "lotteryID")
	if !ok {
		return
	}

	reg, err := h.service.IsRegistered(r.Context(), ids[0], ids[1])
	if err != nil {
		h.writeError(w, "get entry", err, zap.String("userID", ids[0]), zap.String("lotteryID", ids[1]))
		return
	}
	h.writeJSON(w, http.StatusOK, reg)
}

// RegisterEntry записывает пользователя в лотерею.
func (h *Handler) RegisterEntry(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "userID", "lotteryID")
	if !ok {
		return
	}

	if err := h.service.RegisterEntry(r.Context(), ids[0], ids[1]); err != nil {
		h.writeError(w, "register entry", err, zap.String("userID", ids[0]), zap.String("lotteryID", ids[1]))
		return
	}
	h.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// WithdrawEntry отзывает запись пользователя из лотереи.
func (h *Handler) WithdrawEntry(w http.ResponseWriter, r *http.Request) {
	ids, ok := h.pathIDs(w, r, "userID", "lotteryID")
	if !ok {
		return
	}

	if err := h.service.WithdrawEntry(r.Context(), ids[0], ids[1]); err != nil {
		h.writeError(w, "withdraw entry", err, zap.String("userID", ids[0]), zap.String("lotteryID", ids[1]))
		return
	}
	h.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// ---------- Admin ----------

// Reset возвращает данные к начальному набору.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.writeError(w, "reset", err)
		return
	}
	h.writeJSON(w, http.StatusOK, successResponse{Success: true})
}
