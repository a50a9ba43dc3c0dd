package model

import "time"

// SyncCategory — категория синхронизации.
type SyncCategory string

const (
	SyncMetadata SyncCategory = "metadata"
	SyncData     SyncCategory = "data"
	SyncInternal SyncCategory = "internal"
)

// Valid проверяет категорию.
func (c SyncCategory) Valid() bool {
	switch c {
	case SyncMetadata, SyncData, SyncInternal:
		return true
	}
	return false
}

// SyncDirection — направление синхронизации.
type SyncDirection string

const (
	// SyncUpload — приватный FTP → область исследования
	SyncUpload SyncDirection = "upload"
	// SyncDownload — область исследования → приватный FTP
	SyncDownload SyncDirection = "download"
)

// SyncStatus — статус плана синхронизации.
type SyncStatus string

const (
	SyncDryRun    SyncStatus = "dry-run"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncPlan — план односторонней синхронизации: разбиение на
// копируемые, обновляемые и удаляемые файлы.
type SyncPlan struct {
	ID        string        `json:"id"`
	StudyID   string        `json:"study_id"`
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Category  SyncCategory  `json:"category"`
	Direction SyncDirection `json:"direction"`
	ToCopy    []string      `json:"to_copy"`
	ToUpdate  []string      `json:"to_update"`
	ToDelete  []string      `json:"to_delete"`
	Status    SyncStatus    `json:"status"`
	// Applied — число выполненных файловых мутаций
	Applied     int        `json:"applied"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Empty — план не содержит изменений.
func (p *SyncPlan) Empty() bool {
	return len(p.ToCopy) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0
}
