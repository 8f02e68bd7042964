package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mmeshcher/lottery-system/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Каждая лотерея защищена своим
// мьютексом, так что операции над разными лотереями не мешают друг другу.
type MemoryRepository struct {
	mu        sync.RWMutex
	seq       uint64
	lotteries map[string]*lotteryState
	users     map[string]userRecord
}

type lotteryState struct {
	mu      sync.Mutex
	seq     uint64
	lottery model.Lottery
	// entries: user id -> порядковый номер записи
	entries map[string]uint64
	nextSeq uint64
}

type userRecord struct {
	seq  uint64
	user model.User
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		lotteries: make(map[string]*lotteryState),
		users:     make(map[string]userRecord),
	}
}

// Close ничего не делает: ресурсов для освобождения нет.
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) state(id string) (*lotteryState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.lotteries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLotteryNotFound, id)
	}
	return st, nil
}

// lockState захватывает лотерею; вызывающий обязан вызвать st.mu.Unlock.
func (r *MemoryRepository) lockState(ctx context.Context, id string) (*lotteryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	return st, nil
}

func (st *lotteryState) sortedEntries(limit int) []model.Entry {
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(st.entries[a], st.entries[b])
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	res := make([]model.Entry, 0, len(ids))
	for _, id := range ids {
		res = append(res, model.Entry{UserID: id, LotteryID: st.lottery.ID})
	}
	return res
}

// ---------- Lotteries ----------

// GetLottery возвращает лотерею по идентификатору.
func (r *MemoryRepository) GetLottery(ctx context.Context, id string) (*model.Lottery, error) {
	st, err := r.lockState(ctx, id)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	l := st.lottery
	return &l, nil
}

func (r *MemoryRepository) sortedStates() []*lotteryState {
	r.mu.RLock()
	states := make([]*lotteryState, 0, len(r.lotteries))
	for _, st := range r.lotteries {
		states = append(states, st)
	}
	r.mu.RUnlock()

	slices.SortFunc(states, func(a, b *lotteryState) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return states
}

// ListLotteries возвращает не более limit лотерей в порядке создания.
func (r *MemoryRepository) ListLotteries(ctx context.Context, limit int) ([]model.Lottery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filterLotteries(func(string) bool { return true }, limit), nil
}

// GetLotteriesByIDs возвращает существующие лотереи из списка идентификаторов.
func (r *MemoryRepository) GetLotteriesByIDs(ctx context.Context, ids []string, limit int) ([]model.Lottery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filterLotteries(func(id string) bool { return slices.Contains(ids, id) }, limit), nil
}

func (r *MemoryRepository) filterLotteries(match func(id string) bool, limit int) []model.Lottery {
	res := []model.Lottery{}
	for _, st := range r.sortedStates() {
		if limit > 0 && len(res) >= limit {
			break
		}
		st.mu.Lock()
		l := st.lottery
		st.mu.Unlock()

		if match(l.ID) {
			res = append(res, l)
		}
	}
	return res
}

// CreateLottery добавляет новую неразыгранную лотерею.
func (r *MemoryRepository) CreateLottery(ctx context.Context, l model.Lottery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.Capacity < 0 {
		return ErrInvalidCapacity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lotteries[l.ID]; ok {
		return fmt.Errorf("%w: %s", ErrLotteryExists, l.ID)
	}

	r.seq++
	l.Drawn = false
	r.lotteries[l.ID] = &lotteryState{
		seq:     r.seq,
		lottery: l,
		entries: make(map[string]uint64),
	}
	return nil
}

// MarkDrawn атомарно переводит признак розыгрыша из false в true.
func (r *MemoryRepository) MarkDrawn(ctx context.Context, id string) error {
	return r.InLotteryTx(ctx, id, func(ctx context.Context, tx LotteryTx) error {
		return tx.MarkDrawn(ctx)
	})
}

// ---------- Users ----------

// CreateUser добавляет пользователя.
func (r *MemoryRepository) CreateUser(ctx context.Context, u model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
	}
	r.seq++
	r.users[u.ID] = userRecord{seq: r.seq, user: u}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	u := rec.user
	return &u, nil
}

// ListUsers возвращает не более limit пользователей в порядке создания.
func (r *MemoryRepository) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filterUsers(func(string) bool { return true }, limit), nil
}

// GetUsersByIDs возвращает существующих пользователей из списка; неизвестные идентификаторы пропускаются.
func (r *MemoryRepository) GetUsersByIDs(ctx context.Context, ids []string, limit int) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.filterUsers(func(id string) bool { return slices.Contains(ids, id) }, limit), nil
}

func (r *MemoryRepository) filterUsers(match func(id string) bool, limit int) []model.User {
	r.mu.RLock()
	recs := make([]userRecord, 0, len(r.users))
	for _, rec := range r.users {
		if match(rec.user.ID) {
			recs = append(recs, rec)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(recs, func(a, b userRecord) int {
		return cmp.Compare(a.seq, b.seq)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	res := make([]model.User, 0, len(recs))
	for _, rec := range recs {
		res = append(res, rec.user)
	}
	return res
}

// ---------- Entries ----------

// Register записывает пользователя в неразыгранную лотерею.
func (r *MemoryRepository) Register(ctx context.Context, userID, lotteryID string) error {
	st, err := r.lockState(ctx, lotteryID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	if st.lottery.Drawn {
		return fmt.Errorf("%w: %s", ErrLotteryAlreadyDrawn, lotteryID)
	}
	if _, ok := st.entries[userID]; ok {
		return fmt.Errorf("%w: user %s, lottery %s", ErrDuplicateEntry, userID, lotteryID)
	}

	st.nextSeq++
	st.entries[userID] = st.nextSeq
	return nil
}

// Withdraw удаляет запись пользователя. Отсутствие записи и разыгранная лотерея не считаются ошибкой.
func (r *MemoryRepository) Withdraw(ctx context.Context, userID, lotteryID string) (bool, error) {
	st, err := r.lockState(ctx, lotteryID)
	if err != nil {
		return false, err
	}
	defer st.mu.Unlock()

	if st.lottery.Drawn {
		return false, nil
	}
	if _, ok := st.entries[userID]; !ok {
		return false, nil
	}
	delete(st.entries, userID)
	return true, nil
}

// HasEntry сообщает, записан ли пользователь в лотерею.
func (r *MemoryRepository) HasEntry(ctx context.Context, userID, lotteryID string) (bool, error) {
	st, err := r.lockState(ctx, lotteryID)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		return false, nil
	}
	defer st.mu.Unlock()

	_, ok := st.entries[userID]
	return ok, nil
}

// EntriesForLottery возвращает записи лотереи; для неизвестной лотереи пустой список.
func (r *MemoryRepository) EntriesForLottery(ctx context.Context, lotteryID string, limit int) ([]model.Entry, error) {
	st, err := r.lockState(ctx, lotteryID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return []model.Entry{}, nil
	}
	defer st.mu.Unlock()

	return st.sortedEntries(limit), nil
}

// EntriesForUser возвращает записи пользователя в порядке создания лотерей.
func (r *MemoryRepository) EntriesForUser(ctx context.Context, userID string, limit int) ([]model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := []model.Entry{}
	for _, st := range r.sortedStates() {
		if limit > 0 && len(res) >= limit {
			break
		}
		st.mu.Lock()
		_, ok := st.entries[userID]
		lotteryID := st.lottery.ID
		st.mu.Unlock()

		if ok {
			res = append(res, model.Entry{UserID: userID, LotteryID: lotteryID})
		}
	}
	return res, nil
}

// PruneToWinners удаляет записи лотереи, пользователи которых не входят в winners.
func (r *MemoryRepository) PruneToWinners(ctx context.Context, lotteryID string, winners []string) (int64, error) {
	var deleted int64
	err := r.InLotteryTx(ctx, lotteryID, func(ctx context.Context, tx LotteryTx) error {
		n, err := tx.PruneToWinners(ctx, winners)
		deleted = n
		return err
	})
	return deleted, err
}

// ---------- Draw scope ----------

// InLotteryTx захватывает мьютекс лотереи на всё время fn. Изменения накапливаются
// в транзакции и применяются, только если fn вернула nil и контекст не отменён.
func (r *MemoryRepository) InLotteryTx(ctx context.Context, lotteryID string, fn TxFunc) error {
	st, err := r.lockState(ctx, lotteryID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	tx := &memoryLotteryTx{state: st, lottery: st.lottery}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memoryLotteryTx struct {
	state   *lotteryState
	lottery model.Lottery
	// победители после PruneToWinners; nil, пока удаление не запрошено
	keep map[string]struct{}
}

func (t *memoryLotteryTx) Lottery() model.Lottery {
	return t.lottery
}

func (t *memoryLotteryTx) MarkDrawn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.lottery.Drawn {
		return fmt.Errorf("%w: %s", ErrAlreadyDrawn, t.lottery.ID)
	}
	t.lottery.Drawn = true
	return nil
}

func (t *memoryLotteryTx) Entries(ctx context.Context) ([]model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := t.state.sortedEntries(0)
	if t.keep == nil {
		return all, nil
	}

	res := make([]model.Entry, 0, len(t.keep))
	for _, e := range all {
		if _, ok := t.keep[e.UserID]; ok {
			res = append(res, e)
		}
	}
	return res, nil
}

func (t *memoryLotteryTx) PruneToWinners(ctx context.Context, winners []string) (int64, error) {
	current, err := t.Entries(ctx)
	if err != nil {
		return 0, err
	}

	winnerSet := make(map[string]struct{}, len(winners))
	for _, id := range winners {
		winnerSet[id] = struct{}{}
	}

	keep := make(map[string]struct{}, len(winners))
	var deleted int64
	for _, e := range current {
		if _, ok := winnerSet[e.UserID]; ok {
			keep[e.UserID] = struct{}{}
			continue
		}
		deleted++
	}

	t.keep = keep
	return deleted, nil
}

func (t *memoryLotteryTx) commit() {
	t.state.lottery = t.lottery
	if t.keep == nil {
		return
	}
	for id := range t.state.entries {
		if _, ok := t.keep[id]; !ok {
			delete(t.state.entries, id)
		}
	}
}

// ---------- Reset ----------

// Reset очищает хранилище и заполняет его начальными данными.
func (r *MemoryRepository) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Начальный набор собирается заранее и подменяется целиком, так что читатели
	// видят либо прежние данные, либо полный набор.
	var seq uint64

	lotteries := make(map[string]*lotteryState, len(SeedLotteries))
	for _, l := range SeedLotteries {
		seq++
		l.Drawn = false
		lotteries[l.ID] = &lotteryState{
			seq:     seq,
			lottery: l,
			entries: make(map[string]uint64),
		}
	}

	users := make(map[string]userRecord, len(SeedUsers))
	for _, u := range SeedUsers {
		seq++
		users[u.ID] = userRecord{seq: seq, user: u}
	}

	for _, e := range SeedEntries {
		st, ok := lotteries[e.LotteryID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrLotteryNotFound, e.LotteryID)
		}
		st.nextSeq++
		st.entries[e.UserID] = st.nextSeq
	}

	r.mu.Lock()
	r.seq = seq
	r.lotteries = lotteries
	r.users = users
	r.mu.Unlock()

	return nil
}
