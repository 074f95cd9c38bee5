// Пакет model — доменные модели filevault.
// FileRecord — метаданные загруженного файла, используется как
// in-memory представление индекса и как формат документа метаданных на диске.
package model

import (
	"time"
)

// ContentTypeDefault — MIME-тип, если клиент не передал Content-Type.
const ContentTypeDefault = "application/octet-stream"

// FileRecord — запись о файле в индексе метаданных.
// Поле StoredFileName не возвращается в API, но сохраняется в документе
// для привязки записи к blob-у на диске.
type FileRecord struct {
	// ID — уникальный идентификатор, назначается индексом при добавлении
	ID int64 `json:"id"`

	// OwnerID — идентификатор владельца (sub из JWT). Не меняется после создания.
	OwnerID string `json:"ownerId"`

	// OriginalFileName — имя файла, переданное клиентом (только для отображения)
	OriginalFileName string `json:"originalFileName"`

	// StoredFileName — сгенерированное имя blob-а на диске.
	// Никогда не выводится из пользовательского ввода.
	StoredFileName string `json:"storedFileName"`

	// ContentType — MIME-тип файла
	ContentType string `json:"contentType"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// CreatedAt — дата и время загрузки (UTC)
	CreatedAt time.Time `json:"createdAt"`
}

// OwnedBy проверяет, принадлежит ли запись указанному владельцу.
func (r *FileRecord) OwnedBy(ownerID string) bool {
	return r.OwnerID == ownerID
}
