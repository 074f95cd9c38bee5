// auth.go — регистрация и вход пользователей с локальным выпуском токенов.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/filevault/internal/api/middleware"
	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/storage/userdb"
)

const (
	maxUsernameLength = 64
	// bcrypt учитывает только первые 72 байта пароля
	maxPasswordBytes = 72
)

// UserStore — хранилище учётных записей.
type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (model.User, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
}

// AuthConfig — параметры AuthService.
type AuthConfig struct {
	// CacheSize — максимальное количество пользователей в кэше
	CacheSize int
	// CacheTTL — время жизни записи кэша
	CacheTTL time.Duration
	// BcryptCost — стоимость хеширования (0 — bcrypt.DefaultCost)
	BcryptCost int
}

// AuthService — регистрация и вход пользователей.
type AuthService struct {
	users  UserStore
	issuer *TokenIssuer
	cache  *expirable.LRU[string, model.User]
	cost   int
	// dummyHash — хеш для сравнения при неизвестном пользователе
	dummyHash []byte
	logger    *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(users UserStore, issuer *TokenIssuer, cfg AuthConfig, logger *slog.Logger) (*AuthService, error) {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("filevault-dummy-password"), cost)
	if err != nil {
		return nil, err
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}

	return &AuthService{
		users:     users,
		issuer:    issuer,
		cache:     expirable.NewLRU[string, model.User](size, nil, cfg.CacheTTL),
		cost:      cost,
		dummyHash: dummy,
		logger:    logger.With(slog.String("component", "auth_service")),
	}, nil
}

// Register создаёт пользователя и возвращает токен для него.
func (s *AuthService) Register(ctx context.Context, username, password string) (IssuedToken, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return IssuedToken{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return IssuedToken{}, newError(KindInternal, err, "Ошибка хеширования пароля")
	}

	user, err := s.users.Create(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, userdb.ErrUserExists) {
			return IssuedToken{}, newError(KindConflict, err, "Пользователь %s уже существует", username)
		}
		s.logger.Error("Ошибка создания пользователя", slog.String("error", err.Error()))
		return IssuedToken{}, newError(KindInternal, err, "Ошибка регистрации")
	}
	s.cache.Remove(cacheKey(username))

	middleware.OperationsTotal.WithLabelValues("register", "success").Inc()
	s.logger.Info("Пользователь зарегистрирован", slog.String("username", user.Username))

	return s.issue(user)
}

// Login проверяет пароль и возвращает токен.
// Неизвестное имя и неверный пароль неразличимы для клиента.
func (s *AuthService) Login(ctx context.Context, username, password string) (IssuedToken, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return IssuedToken{}, newError(KindValidation, nil, "Имя пользователя и пароль обязательны")
	}

	invalid := newError(KindUnauthenticated, nil, "Неверное имя пользователя или пароль")

	user, err := s.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, userdb.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			middleware.OperationsTotal.WithLabelValues("login", "denied").Inc()
			return IssuedToken{}, invalid
		}
		s.logger.Error("Ошибка чтения пользователя", slog.String("error", err.Error()))
		return IssuedToken{}, newError(KindInternal, err, "Ошибка входа")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("Неверный пароль", slog.String("username", user.Username))
		middleware.OperationsTotal.WithLabelValues("login", "denied").Inc()
		return IssuedToken{}, invalid
	}

	middleware.OperationsTotal.WithLabelValues("login", "success").Inc()
	return s.issue(user)
}

// lookup ищет пользователя в кэше, затем в базе. Отсутствие не кэшируется.
func (s *AuthService) lookup(ctx context.Context, username string) (model.User, error) {
	key := cacheKey(username)
	if user, ok := s.cache.Get(key); ok {
		return user, nil
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return model.User{}, err
	}
	s.cache.Add(key, user)
	return user, nil
}

func (s *AuthService) issue(user model.User) (IssuedToken, error) {
	token, err := s.issuer.Issue(user.Username)
	if err != nil {
		s.logger.Error("Ошибка выпуска токена", slog.String("error", err.Error()))
		return IssuedToken{}, newError(KindInternal, err, "Ошибка выпуска токена")
	}
	return token, nil
}

func validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return newError(KindValidation, nil, "Имя пользователя и пароль обязательны")
	}
	if len([]rune(username)) > maxUsernameLength {
		return newError(KindValidation, nil, "Имя пользователя длиннее %d символов", maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return newError(KindValidation, nil, "Имя пользователя содержит недопустимые символы")
		}
	}
	if len(password) > maxPasswordBytes {
		return newError(KindValidation, nil, "Пароль длиннее %d байт", maxPasswordBytes)
	}
	return nil
}

// cacheKey приводит к нижнему регистру только ASCII, как COLLATE NOCASE
// в SQLite: "Äda" и "äda" — разные пользователи и разные ключи кэша.
func cacheKey(username string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, username)
}
