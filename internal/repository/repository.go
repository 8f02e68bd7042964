// Package repository содержит хранилища реестра лотерей и журнала записей.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/lottery-system/internal/model"
)

var (
	// ErrLotteryNotFound возвращается, если лотерея с указанным идентификатором не существует.
	ErrLotteryNotFound = errors.New("lottery not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEntry возвращается при повторной записи пользователя в ту же лотерею.
	ErrDuplicateEntry = errors.New("entry already exists")
	// ErrLotteryAlreadyDrawn возвращается при попытке записаться в разыгранную лотерею.
	ErrLotteryAlreadyDrawn = errors.New("lottery already drawn")
	// ErrAlreadyDrawn возвращается при повторной установке признака розыгрыша.
	ErrAlreadyDrawn = errors.New("drawn flag already set")
	// ErrLotteryExists возвращается при создании лотереи с занятым идентификатором.
	ErrLotteryExists = errors.New("lottery already exists")
	// ErrUserExists возвращается при создании пользователя с занятым идентификатором.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCapacity возвращается, если число билетов отрицательно.
	ErrInvalidCapacity = errors.New("capacity must not be negative")

	// ErrStorage оборачивает сбои хранилища и транспорта, в отличие от нарушений бизнес-правил.
	// Такие ошибки временные: вызывающая сторона может повторить запрос.
	ErrStorage = errors.New("storage failure")
)

// LotteryTx описывает атомарную область работы с одной лотереей.
// Пока она открыта, запись и отзыв записей в эту лотерею ждут её завершения.
type LotteryTx interface {
	// Lottery возвращает состояние лотереи на момент захвата блокировки.
	Lottery() model.Lottery
	// MarkDrawn переводит лотерею в состояние «разыграна».
	MarkDrawn(ctx context.Context) error
	// Entries возвращает все текущие записи лотереи.
	Entries(ctx context.Context) ([]model.Entry, error)
	// PruneToWinners удаляет записи пользователей, не вошедших в winners, и возвращает их число.
	PruneToWinners(ctx context.Context, winners []string) (int64, error)
}

// TxFunc выполняется внутри LotteryTx. Ненулевая ошибка откатывает все изменения.
type TxFunc func(ctx context.Context, tx LotteryTx) error

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Начальные данные для административного сброса.
var (
	SeedLotteries = []model.Lottery{
		{ID: "1", Name: "Event 1", Capacity: 1},
		{ID: "2", Name: "Event 2", Capacity: 2},
		{ID: "3", Name: "Event 3", Capacity: 3},
	}
	SeedUsers = []model.User{
		{ID: "1", Name: "User 1"},
		{ID: "2", Name: "User 2"},
		{ID: "3", Name: "User 3"},
	}
	SeedEntries = []model.Entry{
		{LotteryID: "1", UserID: "1"},
		{LotteryID: "1", UserID: "2"},
		{LotteryID: "2", UserID: "2"},
		{LotteryID: "2", UserID: "3"},
		{LotteryID: "3", UserID: "1"},
		{LotteryID: "3", UserID: "3"},
	}
)
