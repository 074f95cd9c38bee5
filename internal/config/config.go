// Пакет config — загрузка и валидация конфигурации filevault
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Минимальная длина секрета HS256 (256 бит).
const minJWTSecretLength = 32

// Config содержит все параметры конфигурации filevault.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Имя вершины графа зависимостей и сервиса в /info
	ServiceID string
	// Путь к директории хранения blob-ов
	DataDir string
	// Путь к документу метаданных (вне DataDir)
	MetadataPath string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Допустимые расширения файлов (с точкой, регистр учитывается)
	AllowedExtensions []string

	// URL JWKS endpoint внешнего identity provider (режим RS256)
	JWKSUrl string
	// Общий секрет локального выпуска токенов (режим HS256)
	JWTSecret string
	// Ожидаемые iss и aud в токенах
	JWTIssuer   string
	JWTAudience string
	// Время жизни локально выпущенного токена
	JWTTTL time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Пропускать проверку TLS-сертификатов исходящих соединений
	TLSSkipVerify bool

	// Путь к базе пользователей (только локальный режим)
	UsersDB string
	// Размер и TTL кэша пользователей
	UserCacheSize int
	UserCacheTTL  time.Duration

	// Путь к TLS сертификату и ключу (оба или ни одного)
	TLSCert string
	TLSKey  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Интервал автоматической сверки (0 — выключена)
	ReconcileInterval time.Duration
	// Минимальный возраст blob-а без записи для признания его orphan
	OrphanGrace time.Duration
	// Удалять orphan blob-ы при сверке
	ReconcileDeleteOrphans bool

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LocalAuth возвращает true, если токены выпускаются самим сервисом (HS256).
func (c *Config) LocalAuth() bool {
	return c.JWTSecret != ""
}

// TLSEnabled возвращает true, если сервер слушает HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Load загружает конфигурацию из переменных окружения, валидирует
// поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FV_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FV_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FV_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FV_SERVICE_ID — имя сервиса (по умолчанию "filevault")
	cfg.ServiceID = getEnvDefault("FV_SERVICE_ID", "filevault")

	// FV_DATA_DIR — директория blob-ов (по умолчанию ./uploads)
	cfg.DataDir = getEnvDefault("FV_DATA_DIR", "./uploads")

	// FV_METADATA_PATH — документ метаданных (по умолчанию ./fileMetadata.json)
	cfg.MetadataPath = getEnvDefault("FV_METADATA_PATH", "./fileMetadata.json")
	inside, err := isWithin(cfg.DataDir, cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("FV_METADATA_PATH: %w", err)
	}
	if inside {
		return nil, fmt.Errorf("FV_METADATA_PATH: документ %q не должен находиться внутри FV_DATA_DIR (%q)",
			cfg.MetadataPath, cfg.DataDir)
	}

	// FV_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 10 MiB)
	cfg.MaxFileSize, err = getEnvInt64("FV_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FV_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FV_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// FV_ALLOWED_EXTENSIONS — допустимые расширения через запятую
	cfg.AllowedExtensions = getEnvList("FV_ALLOWED_EXTENSIONS", []string{".txt", ".pdf", ".png", ".jpg", ".jpeg"})
	if len(cfg.AllowedExtensions) == 0 {
		return nil, errors.New("FV_ALLOWED_EXTENSIONS: список расширений пуст")
	}
	for _, ext := range cfg.AllowedExtensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext[1:], `./\`) {
			return nil, fmt.Errorf("FV_ALLOWED_EXTENSIONS: недопустимое расширение %q (ожидается вида .txt)", ext)
		}
	}

	// FV_JWKS_URL / FV_JWT_SECRET — ровно один режим проверки токенов
	cfg.JWKSUrl = getEnvDefault("FV_JWKS_URL", "")
	cfg.JWTSecret = getEnvDefault("FV_JWT_SECRET", "")
	switch {
	case cfg.JWKSUrl == "" && cfg.JWTSecret == "":
		return nil, errors.New("FV_JWKS_URL / FV_JWT_SECRET: должна быть задана одна из переменных")
	case cfg.JWKSUrl != "" && cfg.JWTSecret != "":
		return nil, errors.New("FV_JWKS_URL / FV_JWT_SECRET: переменные взаимоисключающие")
	case cfg.JWTSecret != "" && len(cfg.JWTSecret) < minJWTSecretLength:
		return nil, fmt.Errorf("FV_JWT_SECRET: длина секрета должна быть не меньше %d байт", minJWTSecretLength)
	}

	cfg.JWTIssuer = getEnvDefault("FV_JWT_ISSUER", "")
	cfg.JWTAudience = getEnvDefault("FV_JWT_AUDIENCE", "")
	cfg.JWKSCACert = getEnvDefault("FV_JWKS_CA_CERT", "")

	// FV_JWT_TTL — время жизни локального токена (по умолчанию 2h)
	cfg.JWTTTL, err = getEnvDuration("FV_JWT_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FV_JWT_TTL: %w", err)
	}
	if cfg.JWTTTL <= 0 {
		return nil, errors.New("FV_JWT_TTL: значение должно быть положительным")
	}

	// FV_JWT_LEEWAY — допуск по времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("FV_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_JWT_LEEWAY: %w", err)
	}

	// FV_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("FV_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FV_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// FV_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("FV_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// FV_TLS_SKIP_VERIFY — пропуск проверки TLS (по умолчанию false)
	cfg.TLSSkipVerify, err = getEnvBool("FV_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("FV_TLS_SKIP_VERIFY: %w", err)
	}

	// FV_USERS_DB — база пользователей (по умолчанию ./users.db)
	cfg.UsersDB = getEnvDefault("FV_USERS_DB", "./users.db")

	// FV_USER_CACHE_SIZE — размер кэша пользователей (по умолчанию 1024)
	cfg.UserCacheSize, err = getEnvInt("FV_USER_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FV_USER_CACHE_SIZE: %w", err)
	}
	if cfg.UserCacheSize <= 0 {
		return nil, errors.New("FV_USER_CACHE_SIZE: значение должно быть положительным")
	}

	// FV_USER_CACHE_TTL — TTL кэша пользователей (по умолчанию 5m)
	cfg.UserCacheTTL, err = getEnvDuration("FV_USER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FV_USER_CACHE_TTL: %w", err)
	}

	// FV_TLS_CERT / FV_TLS_KEY — оба или ни одного
	cfg.TLSCert = getEnvDefault("FV_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FV_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, errors.New("FV_TLS_CERT / FV_TLS_KEY: должны быть заданы обе переменные или ни одной")
	}

	// FV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FV_LOG_LEVEL: %w", err)
	}

	// FV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FV_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FV_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h, 0 — выключена)
	cfg.ReconcileInterval, err = getEnvDuration("FV_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FV_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, errors.New("FV_RECONCILE_INTERVAL: значение не может быть отрицательным")
	}

	// FV_ORPHAN_GRACE — возраст orphan blob-а (по умолчанию 1h)
	cfg.OrphanGrace, err = getEnvDuration("FV_ORPHAN_GRACE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FV_ORPHAN_GRACE: %w", err)
	}

	// FV_RECONCILE_DELETE_ORPHANS — удалять orphan blob-ы (по умолчанию true)
	cfg.ReconcileDeleteOrphans, err = getEnvBool("FV_RECONCILE_DELETE_ORPHANS", true)
	if err != nil {
		return nil, fmt.Errorf("FV_RECONCILE_DELETE_ORPHANS: %w", err)
	}

	// FV_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FV_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию из hostname)
	cfg.DephealthGroup = getEnvDefault("FV_DEPHEALTH_GROUP", "")

	// FV_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 15s)
	cfg.ShutdownTimeout, err = getEnvDuration("FV_SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDuration("FV_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FV_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FV_HTTP_IDLE_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("service", cfg.ServiceID))
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvList разбирает список через запятую. Пустые элементы пропускаются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// isWithin проверяет, лежит ли path внутри dir (после канонизации).
func isWithin(dir, path string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
