// Package model содержит доменные сущности сервиса лотерей.
package model

// Lottery описывает лотерею: пул участников с ограниченным числом выигрышных билетов.
type Lottery struct {
	ID       string `json:"lotteryId"`
	Name     string `json:"lotteryName"`
	Capacity int    `json:"ticketsAvailable"`
	Drawn    bool   `json:"drawn"`
}

// User представляет участника лотерей.
type User struct {
	ID   string `json:"userId"`
	Name string `json:"name"`
}

// Entry связывает одного пользователя с одной лотереей.
type Entry struct {
	UserID    string `json:"userId"`
	LotteryID string `json:"lotteryId"`
}

// Registration описывает состояние записи пользователя в лотерею.
type Registration struct {
	Drawn      bool `json:"drawn"`
	Registered bool `json:"registered"`
}

// DrawResult содержит итог розыгрыша.
// Replayed выставлен, если розыгрыш уже был проведён раньше и результат только прочитан.
type DrawResult struct {
	LotteryID string
	Winners   []User
	Replayed  bool
}

// UserIDs возвращает идентификаторы пользователей из списка записей без повторов.
func UserIDs(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	return ids
}

// LotteryIDs возвращает идентификаторы лотерей из списка записей без повторов.
func LotteryIDs(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.LotteryID]; ok {
			continue
		}
		seen[e.LotteryID] = struct{}{}
		ids = append(ids, e.LotteryID)
	}
	return ids
}
