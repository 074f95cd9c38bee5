package model

import "time"

// User — учётная запись локального издателя токенов.
type User struct {
	ID int64
	// Username — уникален без учёта регистра
	Username string
	// PasswordHash — bcrypt-хэш пароля
	PasswordHash string
	CreatedAt    time.Time
}
