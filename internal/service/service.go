// Package service реализует бизнес-логику лотерей: запись участников и розыгрыш.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/lottery-system/internal/draw"
	"github.com/mmeshcher/lottery-system/internal/model"
	"github.com/mmeshcher/lottery-system/internal/repository"
)

// DefaultListLimit ограничивает размер списков, возвращаемых наружу.
const DefaultListLimit = 100

// ErrResetDisabled возвращается, если административный сброс не разрешён конфигурацией.
var ErrResetDisabled = errors.New("reset is disabled")

// Repository описывает контракт реестра лотерей и журнала записей, используемый сервисом.
type Repository interface {
	Close() error

	GetLottery(ctx context.Context, id string) (*model.Lottery, error)
	ListLotteries(ctx context.Context, limit int) ([]model.Lottery, error)
	GetLotteriesByIDs(ctx context.Context, ids []string, limit int) ([]model.Lottery, error)
	CreateLottery(ctx context.Context, l model.Lottery) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, limit int) ([]model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string, limit int) ([]model.User, error)
	CreateUser(ctx context.Context, u model.User) error

	Register(ctx context.Context, userID, lotteryID string) error
	Withdraw(ctx context.Context, userID, lotteryID string) (bool, error)
	HasEntry(ctx context.Context, userID, lotteryID string) (bool, error)
	EntriesForLottery(ctx context.Context, lotteryID string, limit int) ([]model.Entry, error)
	EntriesForUser(ctx context.Context, userID string, limit int) ([]model.Entry, error)

	InLotteryTx(ctx context.Context, lotteryID string, fn repository.TxFunc) error
	Reset(ctx context.Context) error
}

// WinnerCache хранит итоги проведённых розыгрышей по поколениям данных.
// Flush начинает новое поколение, итоги прежних поколений больше не читаются.
type WinnerCache interface {
	Generation(ctx context.Context) (int64, error)
	Winners(ctx context.Context, generation int64, lotteryID string) ([]string, bool, error)
	StoreWinners(ctx context.Context, generation int64, lotteryID string, userIDs []string) error
	Flush(ctx context.Context) error
}

// Service содержит бизнес-логику лотерей.
type Service struct {
	repo         Repository
	cache        WinnerCache
	sampler      *draw.Sampler
	logger       *zap.Logger
	listLimit    int
	resetEnabled bool
}

// Option настраивает Service.
type Option func(*Service)

// WithSampler задаёт генератор выборки победителей.
func WithSampler(s *draw.Sampler) Option {
	return func(svc *Service) {
		svc.sampler = s
	}
}

// WithListLimit задаёт ограничение на размер возвращаемых списков.
func WithListLimit(limit int) Option {
	return func(svc *Service) {
		if limit > 0 {
			svc.listLimit = limit
		}
	}
}

// WithReset разрешает административный сброс данных.
func WithReset(enabled bool) Option {
	return func(svc *Service) {
		svc.resetEnabled = enabled
	}
}

// NewService создаёт сервис поверх репозитория. cache может быть nil.
func NewService(repo Repository, cache WinnerCache, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:      repo,
		cache:     cache,
		sampler:   draw.NewSampler(nil),
		logger:    logger,
		listLimit: DefaultListLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ---------- Entries ----------

// RegisterEntry записывает пользователя в лотерею.
func (s *Service) RegisterEntry(ctx context.Context, userID, lotteryID string) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.Register(ctx, userID, lotteryID)
}

// WithdrawEntry отзывает запись пользователя. Операция идемпотентна: отсутствие записи
// и уже проведённый розыгрыш не считаются ошибкой.
func (s *Service) WithdrawEntry(ctx context.Context, userID, lotteryID string) error {
	removed, err := s.repo.Withdraw(ctx, userID, lotteryID)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.Debug("withdraw is a no-op",
			zap.String("userID", userID), zap.String("lotteryID", lotteryID))
	}
	return nil
}

// IsRegistered сообщает, разыграна ли лотерея и есть ли в ней запись пользователя.
// После розыгрыша запись есть только у победителей.
func (s *Service) IsRegistered(ctx context.Context, userID, lotteryID string) (*model.Registration, error) {
	lottery, err := s.repo.GetLottery(ctx, lotteryID)
	if err != nil {
		return nil, err
	}

	has, err := s.repo.HasEntry(ctx, userID, lotteryID)
	if err != nil {
		return nil, err
	}

	return &model.Registration{Drawn: lottery.Drawn, Registered: has}, nil
}

// ---------- Draw ----------

// Draw проводит розыгрыш лотереи или, если он уже состоялся, возвращает прежних победителей.
//
// Решение «розыгрыш или повтор» принимается под блокировкой лотереи: признак drawn
// выставляется, записи читаются, выбираются победители и удаляются проигравшие в одной
// транзакции. Регистрации ждут её завершения и после неё отклоняются.
func (s *Service) Draw(ctx context.Context, lotteryID string) (*model.DrawResult, error) {
	lottery, err := s.repo.GetLottery(ctx, lotteryID)
	if err != nil {
		return nil, err
	}

	if lottery.Drawn {
		return s.replay(ctx, lotteryID)
	}

	// Поколение фиксируется до транзакции: если между ним и записью в кэш данные
	// сбросят, итог попадёт в устаревшее поколение и читаться не будет.
	gen, cacheable := s.cacheGeneration(ctx, lotteryID)

	var (
		winnerIDs []string
		replayed  bool
		total     int
		pruned    int64
	)

	err = s.repo.InLotteryTx(ctx, lotteryID, func(ctx context.Context, tx repository.LotteryTx) error {
		l := tx.Lottery()

		if l.Drawn {
			entries, err := tx.Entries(ctx)
			if err != nil {
				return err
			}
			winnerIDs, replayed = model.UserIDs(entries), true
			return nil
		}

		if err := tx.MarkDrawn(ctx); err != nil {
			return err
		}

		entries, err := tx.Entries(ctx)
		if err != nil {
			return err
		}

		winners := s.sampler.Sample(entries, l.Capacity)
		winnerIDs, replayed, total = model.UserIDs(winners), false, len(entries)

		pruned, err = tx.PruneToWinners(ctx, winnerIDs)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("draw lottery %s: %w", lotteryID, err)
	}

	if !replayed {
		s.logger.Info("lottery drawn",
			zap.String("lotteryID", lotteryID),
			zap.Int("capacity", lottery.Capacity),
			zap.Int("entries", total),
			zap.Int("winners", len(winnerIDs)),
			zap.Int64("pruned", pruned),
		)

		if cacheable {
			s.storeWinners(ctx, gen, lotteryID, winnerIDs)
		}
	}

	return s.resolveWinners(ctx, lotteryID, winnerIDs, replayed)
}

// replay возвращает итог уже проведённого розыгрыша. Кэш только читается:
// прочитанный из журнала итог мог устареть к моменту записи.
func (s *Service) replay(ctx context.Context, lotteryID string) (*model.DrawResult, error) {
	if ids, ok := s.cachedWinners(ctx, lotteryID); ok {
		return s.resolveWinners(ctx, lotteryID, ids, true)
	}

	entries, err := s.repo.EntriesForLottery(ctx, lotteryID, 0)
	if err != nil {
		return nil, err
	}

	return s.resolveWinners(ctx, lotteryID, model.UserIDs(entries), true)
}

// resolveWinners подставляет пользователей по идентификаторам в порядке ids.
// Идентификаторы без пользователя отбрасываются.
func (s *Service) resolveWinners(ctx context.Context, lotteryID string, ids []string, replayed bool) (*model.DrawResult, error) {
	users, err := s.repo.GetUsersByIDs(ctx, ids, 0)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	winners := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			s.logger.Warn("winner has no user record", zap.String("lotteryID", lotteryID), zap.String("userID", id))
			continue
		}
		winners = append(winners, u)
	}

	return &model.DrawResult{
		LotteryID: lotteryID,
		Winners:   winners,
		Replayed:  replayed,
	}, nil
}

func (s *Service) cacheGeneration(ctx context.Context, lotteryID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}

	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warn("winner cache generation read failed", zap.Error(err), zap.String("lotteryID", lotteryID))
		return 0, false
	}
	return gen, true
}

func (s *Service) cachedWinners(ctx context.Context, lotteryID string) ([]string, bool) {
	gen, ok := s.cacheGeneration(ctx, lotteryID)
	if !ok {
		return nil, false
	}

	ids, ok, err := s.cache.Winners(ctx, gen, lotteryID)
	if err != nil {
		s.logger.Warn("winner cache read failed", zap.Error(err), zap.String("lotteryID", lotteryID))
		return nil, false
	}
	return ids, ok
}

func (s *Service) storeWinners(ctx context.Context, gen int64, lotteryID string, ids []string) {
	if err := s.cache.StoreWinners(ctx, gen, lotteryID, ids); err != nil {
		s.logger.Warn("winner cache write failed", zap.Error(err), zap.String("lotteryID", lotteryID))
	}
}

// ---------- Queries ----------

// LotteriesOf возвращает лотереи, в которые записан пользователь.
func (s *Service) LotteriesOf(ctx context.Context, userID string) ([]model.Lottery, error) {
	entries, err := s.repo.EntriesForUser(ctx, userID, s.listLimit)
	if err != nil {
		return nil, err
	}
	return s.repo.GetLotteriesByIDs(ctx, model.LotteryIDs(entries), s.listLimit)
}

// UsersOf возвращает участников лотереи, а после розыгрыша её победителей.
func (s *Service) UsersOf(ctx context.Context, lotteryID string) ([]model.User, error) {
	lottery, err := s.repo.GetLottery(ctx, lotteryID)
	if err != nil {
		return nil, err
	}

	if lottery.Drawn {
		if ids, ok := s.cachedWinners(ctx, lotteryID); ok {
			return s.repo.GetUsersByIDs(ctx, ids, s.listLimit)
		}
	}

	entries, err := s.repo.EntriesForLottery(ctx, lotteryID, s.listLimit)
	if err != nil {
		return nil, err
	}
	return s.repo.GetUsersByIDs(ctx, model.UserIDs(entries), s.listLimit)
}

// ListLotteries возвращает лотереи.
func (s *Service) ListLotteries(ctx context.Context) ([]model.Lottery, error) {
	return s.repo.ListLotteries(ctx, s.listLimit)
}

// ListUsers возвращает пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx, s.listLimit)
}

// CreateLottery создаёт новую лотерею.
func (s *Service) CreateLottery(ctx context.Context, l model.Lottery) error {
	if l.Capacity < 0 {
		return repository.ErrInvalidCapacity
	}
	l.Drawn = false
	return s.repo.CreateLottery(ctx, l)
}

// CreateUser создаёт нового пользователя.
func (s *Service) CreateUser(ctx context.Context, u model.User) error {
	return s.repo.CreateUser(ctx, u)
}

// Reset очищает все данные, заполняет их начальным набором и сбрасывает кэш итогов.
func (s *Service) Reset(ctx context.Context) error {
	if !s.resetEnabled {
		return ErrResetDisabled
	}

	if err := s.repo.Reset(ctx); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Flush(ctx); err != nil {
			return fmt.Errorf("flush winner cache: %w: %w", repository.ErrStorage, err)
		}
	}

	s.logger.Info("data reset to seed state")
	return nil
}
