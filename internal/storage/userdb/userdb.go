// Пакет userdb — учётные записи пользователей в SQLite (modernc.org/sqlite),
// схема применяется миграциями golang-migrate из embedded FS.
package userdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bigkaa/filevault/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists — пользователь с таким именем уже зарегистрирован.
	ErrUserExists = errors.New("пользователь уже существует")
	// ErrUserNotFound — пользователь не найден.
	ErrUserNotFound = errors.New("пользователь не найден")
)

// DB — хранилище пользователей.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open применяет миграции и открывает базу данных path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	logger = logger.With(slog.String("component", "userdb"))

	if err := Migrate(path, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы пользователей: %w", err)
	}
	// SQLite допускает одного писателя, пул из одного соединения
	// исключает SQLITE_BUSY при конкурентной регистрации
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе пользователей: %w", err)
	}

	logger.Info("База пользователей открыта", slog.String("path", path))
	return &DB{db: db, path: path, logger: logger}, nil
}

// Migrate применяет SQL-миграции из embedded FS.
func Migrate(path string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// Create сохраняет нового пользователя. Имена сравниваются без учёта регистра.
func (d *DB) Create(ctx context.Context, username, passwordHash string) (model.User, error) {
	createdAt := time.Now().UTC()

	res, err := d.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return model.User{}, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("ошибка получения id пользователя: %w", err)
	}

	return model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
	}, nil
}

// GetByUsername ищет пользователя по имени без учёта регистра.
func (d *DB) GetByUsername(ctx context.Context, username string) (model.User, error) {
	var (
		u         model.User
		createdAt string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return model.User{}, fmt.Errorf("ошибка чтения пользователя: %w", err)
	}

	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.User{}, fmt.Errorf("некорректная дата создания пользователя %s: %w", username, err)
	}
	return u, nil
}

// Count возвращает количество зарегистрированных пользователей.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return n, nil
}

// CheckReady проверяет доступность базы для health endpoint.
// Возвращает статус ("ok", "fail") и сообщение.
func (d *DB) CheckReady(ctx context.Context) (status string, message string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := d.db.PingContext(ctx); err != nil {
		return "fail", fmt.Sprintf("база пользователей недоступна: %v", err)
	}
	return "ok", "подключение активно"
}

// Close закрывает базу данных.
func (d *DB) Close() error {
	return d.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
