package dto

import "time"

type MigrationStatusResponse struct {
	Completed  bool   `json:"completed"`
	LastCursor uint64 `json:"lastCursor"`
	Migrated   int64  `json:"migrated"`
	Remaining  int64  `json:"remaining"`
}

// PendingMessage bodies are plaintext; json encodes them as base64.
type PendingMessage struct {
	ID        uint64    `json:"id"`
	ChannelID string    `json:"channelId"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type MigrationBatchResponse struct {
	Messages   []PendingMessage `json:"messages"`
	NextCursor uint64           `json:"nextCursor"`
}

type MigrationResult struct {
	ID         uint64 `json:"id"`
	Ciphertext []byte `json:"ciphertext"`
	KeyVersion *int   `json:"keyVersion,omitempty"`
}

type ApplyBatchRequest struct {
	Results []MigrationResult `json:"results"`
}

type ApplyBatchResponse struct {
	Applied int                     `json:"applied"`
	Status  MigrationStatusResponse `json:"status"`
}
