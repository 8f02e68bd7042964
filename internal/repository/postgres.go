package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/lottery-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	txMaxRetries = 3
	txRetryBase  = 100 * time.Millisecond
)

// PostgresRepository хранит реестр лотерей, пользователей и журнал записей в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, взаимных блокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(txMaxRetries, retry.NewExponential(txRetryBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return pgconn.SafeToRetry(err) || isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// limitArg переводит неположительный лимит в NULL, что для LIMIT означает «без ограничения».
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

// ---------- Lotteries ----------

// GetLottery возвращает лотерею по идентификатору.
func (r *PostgresRepository) GetLottery(ctx context.Context, id string) (*model.Lottery, error) {
	var l model.Lottery
	err := r.pool.QueryRow(ctx,
		`SELECT lottery_id, name, capacity, drawn FROM lotteries WHERE lottery_id = $1`,
		id,
	).Scan(&l.ID, &l.Name, &l.Capacity, &l.Drawn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrLotteryNotFound, id)
		}
		return nil, storageError("get lottery", err)
	}
	return &l, nil
}

// ListLotteries возвращает не более limit лотерей.
func (r *PostgresRepository) ListLotteries(ctx context.Context, limit int) ([]model.Lottery, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT lottery_id, name, capacity, drawn
		 FROM lotteries
		 ORDER BY created_at, lottery_id
		 LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select lotteries", err)
	}
	return collectLotteries(rows)
}

// GetLotteriesByIDs возвращает существующие лотереи из списка идентификаторов.
func (r *PostgresRepository) GetLotteriesByIDs(ctx context.Context, ids []string, limit int) ([]model.Lottery, error) {
	if len(ids) == 0 {
		return []model.Lottery{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT lottery_id, name, capacity, drawn
		 FROM lotteries
		 WHERE lottery_id = ANY($1)
		 ORDER BY created_at, lottery_id
		 LIMIT $2`,
		ids, limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select lotteries by ids", err)
	}
	return collectLotteries(rows)
}

func collectLotteries(rows pgx.Rows) ([]model.Lottery, error) {
	defer rows.Close()

	res := []model.Lottery{}
	for rows.Next() {
		var l model.Lottery
		if err := rows.Scan(&l.ID, &l.Name, &l.Capacity, &l.Drawn); err != nil {
			return nil, storageError("scan lottery", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return res, nil
}

// CreateLottery добавляет новую неразыгранную лотерею.
func (r *PostgresRepository) CreateLottery(ctx context.Context, l model.Lottery) error {
	if l.Capacity < 0 {
		return ErrInvalidCapacity
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO lotteries (lottery_id, name, capacity) VALUES ($1, $2, $3)`,
		l.ID, l.Name, l.Capacity,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return fmt.Errorf("%w: %s", ErrLotteryExists, l.ID)
		}
		if isPgCode(err, pgerrcode.CheckViolation) {
			return ErrInvalidCapacity
		}
		return storageError("insert lottery", err)
	}
	return nil
}

// MarkDrawn атомарно переводит признак розыгрыша из false в true.
func (r *PostgresRepository) MarkDrawn(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE lotteries SET drawn = TRUE WHERE lottery_id = $1 AND drawn = FALSE`,
		id,
	)
	if err != nil {
		return storageError("mark drawn", err)
	}
	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetLottery(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyDrawn, id)
}

// ---------- Users ----------

// CreateUser добавляет пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, name) VALUES ($1, $2)`,
		u.ID, u.Name,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return fmt.Errorf("%w: %s", ErrUserExists, u.ID)
		}
		return storageError("insert user", err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, name FROM users WHERE user_id = $1`,
		id,
	).Scan(&u.ID, &u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil, storageError("get user", err)
	}
	return &u, nil
}

// ListUsers возвращает не более limit пользователей.
func (r *PostgresRepository) ListUsers(ctx context.Context, limit int) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, name FROM users ORDER BY created_at, user_id LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select users", err)
	}
	return collectUsers(rows)
}

// GetUsersByIDs возвращает существующих пользователей из списка; неизвестные идентификаторы пропускаются.
func (r *PostgresRepository) GetUsersByIDs(ctx context.Context, ids []string, limit int) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, name FROM users WHERE user_id = ANY($1) ORDER BY created_at, user_id LIMIT $2`,
		ids, limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select users by ids", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()

	res := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, storageError("scan user", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return res, nil
}

// ---------- Entries ----------

// Register записывает пользователя в лотерею. Строка лотереи блокируется FOR SHARE,
// поэтому запись не может вклиниться между отметкой розыгрыша и удалением проигравших.
// Повторная запись отсекается первичным ключом, а не предварительной проверкой.
func (r *PostgresRepository) Register(ctx context.Context, userID, lotteryID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	drawn, err := lockLotteryShared(ctx, tx, lotteryID)
	if err != nil {
		return err
	}
	if drawn {
		return fmt.Errorf("%w: %s", ErrLotteryAlreadyDrawn, lotteryID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO lottery_entries (user_id, lottery_id) VALUES ($1, $2)`,
		userID, lotteryID,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.UniqueViolation) {
			return fmt.Errorf("%w: user %s, lottery %s", ErrDuplicateEntry, userID, lotteryID)
		}
		return storageError("insert entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("commit tx", err)
	}
	return nil
}

// Withdraw удаляет запись пользователя. Отсутствие записи не считается ошибкой.
// После розыгрыша запись не удаляется: журнал содержит только победителей и не меняется.
func (r *PostgresRepository) Withdraw(ctx context.Context, userID, lotteryID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, storageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	drawn, err := lockLotteryShared(ctx, tx, lotteryID)
	if err != nil {
		return false, err
	}
	if drawn {
		return false, nil
	}

	cmdTag, err := tx.Exec(ctx,
		`DELETE FROM lottery_entries WHERE user_id = $1 AND lottery_id = $2`,
		userID, lotteryID,
	)
	if err != nil {
		return false, storageError("delete entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageError("commit tx", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func lockLotteryShared(ctx context.Context, tx pgx.Tx, lotteryID string) (bool, error) {
	var drawn bool
	err := tx.QueryRow(ctx,
		`SELECT drawn FROM lotteries WHERE lottery_id = $1 FOR SHARE`,
		lotteryID,
	).Scan(&drawn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrLotteryNotFound, lotteryID)
		}
		return false, storageError("lock lottery", err)
	}
	return drawn, nil
}

// HasEntry сообщает, записан ли пользователь в лотерею.
func (r *PostgresRepository) HasEntry(ctx context.Context, userID, lotteryID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lottery_entries WHERE user_id = $1 AND lottery_id = $2)`,
		userID, lotteryID,
	).Scan(&exists)
	if err != nil {
		return false, storageError("select entry", err)
	}
	return exists, nil
}

// EntriesForLottery возвращает записи лотереи.
func (r *PostgresRepository) EntriesForLottery(ctx context.Context, lotteryID string, limit int) ([]model.Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, lottery_id
		 FROM lottery_entries
		 WHERE lottery_id = $1
		 ORDER BY created_at, user_id
		 LIMIT $2`,
		lotteryID, limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select lottery entries", err)
	}
	return collectEntries(rows)
}

// EntriesForUser возвращает записи пользователя.
func (r *PostgresRepository) EntriesForUser(ctx context.Context, userID string, limit int) ([]model.Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, lottery_id
		 FROM lottery_entries
		 WHERE user_id = $1
		 ORDER BY created_at, lottery_id
		 LIMIT $2`,
		userID, limitArg(limit),
	)
	if err != nil {
		return nil, storageError("select user entries", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]model.Entry, error) {
	defer rows.Close()

	res := []model.Entry{}
	for rows.Next() {
		var e model.Entry
		if err := rows.Scan(&e.UserID, &e.LotteryID); err != nil {
			return nil, storageError("scan entry", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("rows error", err)
	}

	return res, nil
}

// PruneToWinners удаляет записи лотереи, пользователи которых не входят в winners.
func (r *PostgresRepository) PruneToWinners(ctx context.Context, lotteryID string, winners []string) (int64, error) {
	var deleted int64
	err := r.InLotteryTx(ctx, lotteryID, func(ctx context.Context, tx LotteryTx) error {
		n, err := tx.PruneToWinners(ctx, winners)
		deleted = n
		return err
	})
	return deleted, err
}

// ---------- Draw scope ----------

// InLotteryTx открывает транзакцию, блокирует строку лотереи FOR UPDATE и выполняет fn.
// Транзакция фиксируется, только если fn завершилась без ошибки; при конфликте
// сериализации или взаимной блокировке fn выполняется повторно.
func (r *PostgresRepository) InLotteryTx(ctx context.Context, lotteryID string, fn TxFunc) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return storageError("begin tx", err)
		}
		defer tx.Rollback(ctx)

		var l model.Lottery
		err = tx.QueryRow(ctx,
			`SELECT lottery_id, name, capacity, drawn FROM lotteries WHERE lottery_id = $1 FOR UPDATE`,
			lotteryID,
		).Scan(&l.ID, &l.Name, &l.Capacity, &l.Drawn)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrLotteryNotFound, lotteryID)
			}
			return storageError("lock lottery for update", err)
		}

		if err := fn(ctx, &postgresLotteryTx{tx: tx, lottery: l}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return storageError("commit tx", err)
		}
		return nil
	})
}

type postgresLotteryTx struct {
	tx      pgx.Tx
	lottery model.Lottery
}

func (t *postgresLotteryTx) Lottery() model.Lottery {
	return t.lottery
}

func (t *postgresLotteryTx) MarkDrawn(ctx context.Context) error {
	if t.lottery.Drawn {
		return fmt.Errorf("%w: %s", ErrAlreadyDrawn, t.lottery.ID)
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE lotteries SET drawn = TRUE WHERE lottery_id = $1`,
		t.lottery.ID,
	)
	if err != nil {
		return storageError("mark drawn", err)
	}

	t.lottery.Drawn = true
	return nil
}

func (t *postgresLotteryTx) Entries(ctx context.Context) ([]model.Entry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, lottery_id FROM lottery_entries WHERE lottery_id = $1 ORDER BY created_at, user_id`,
		t.lottery.ID,
	)
	if err != nil {
		return nil, storageError("select lottery entries", err)
	}
	return collectEntries(rows)
}

func (t *postgresLotteryTx) PruneToWinners(ctx context.Context, winners []string) (int64, error) {
	if winners == nil {
		winners = []string{}
	}

	cmdTag, err := t.tx.Exec(ctx,
		`DELETE FROM lottery_entries WHERE lottery_id = $1 AND NOT (user_id = ANY($2))`,
		t.lottery.ID, winners,
	)
	if err != nil {
		return 0, storageError("prune entries", err)
	}
	return cmdTag.RowsAffected(), nil
}

// ---------- Reset ----------

// Reset очищает все таблицы и заполняет их начальными данными.
func (r *PostgresRepository) Reset(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storageError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE lottery_entries, lotteries, users`); err != nil {
		return storageError("truncate", err)
	}

	batch := &pgx.Batch{}
	for _, l := range SeedLotteries {
		batch.Queue(`INSERT INTO lotteries (lottery_id, name, capacity) VALUES ($1, $2, $3)`, l.ID, l.Name, l.Capacity)
	}
	for _, u := range SeedUsers {
		batch.Queue(`INSERT INTO users (user_id, name) VALUES ($1, $2)`, u.ID, u.Name)
	}
	for _, e := range SeedEntries {
		batch.Queue(`INSERT INTO lottery_entries (user_id, lottery_id) VALUES ($1, $2)`, e.UserID, e.LotteryID)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storageError("seed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storageError("commit tx", err)
	}
	return nil
}
