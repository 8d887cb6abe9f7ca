package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the slice of the chat collaborator's channel row this engine
// reads and writes. Encrypted only ever moves from false to true.
// KeyVersion is the highest key version ever issued for the channel; it
// survives revocation of every holder and never decreases.
type Channel struct {
	ID                  string     `gorm:"primaryKey"`
	Name                string     `gorm:"not null;default:''"`
	Public              bool       `gorm:"not null;default:false"`
	Personal            bool       `gorm:"not null;default:false"`
	OwnerIdentity       *string    `gorm:"index"`
	Encrypted           bool       `gorm:"not null;default:false"`
	EncryptionEnabledAt *time.Time `gorm:"type:timestamptz"`
	KeyVersion          int        `gorm:"not null;default:0"`
	CreatedAt           time.Time  `gorm:"not null;autoCreateTime"`
}

// Member is an entry on the team roster.
type Member struct {
	Identity    string    `gorm:"primaryKey"`
	DisplayName string    `gorm:"not null;default:''"`
	JoinedAt    time.Time `gorm:"not null;autoCreateTime"`
}

type Group struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null;default:''"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

type GroupMember struct {
	GroupID  string    `gorm:"primaryKey"`
	Identity string    `gorm:"primaryKey;index"`
	JoinedAt time.Time `gorm:"not null;autoCreateTime"`
}

type ChannelGroup struct {
	ChannelID string    `gorm:"primaryKey"`
	GroupID   string    `gorm:"primaryKey;index"`
	LinkedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// WrappedChannelKey is one recipient's copy of one version of a channel key.
type WrappedChannelKey struct {
	RecipientIdentity string    `gorm:"primaryKey"`
	ChannelID         string    `gorm:"primaryKey;index"`
	Version           int       `gorm:"primaryKey"`
	Ciphertext        []byte    `gorm:"not null"`
	WrappedBy         string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime"`
}

// WrappedCommunityKey is one recipient's copy of the key shared by all
// public, non-channel-specific content.
type WrappedCommunityKey struct {
	RecipientIdentity string    `gorm:"primaryKey"`
	Ciphertext        []byte    `gorm:"not null"`
	WrappedBy         string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime"`
}

// TeamKeyEscrowSingleton is the only primary key value a TeamKeyEscrow row may
// take.
const TeamKeyEscrowSingleton = 1

type TeamKeyEscrow struct {
	ID            int       `gorm:"primaryKey;autoIncrement:false"`
	TeamIdentity  string    `gorm:"not null"`
	InitializedAt time.Time `gorm:"not null"`
	InitializedBy string    `gorm:"not null"`
}

type WrappedTeamKey struct {
	RecipientIdentity string    `gorm:"primaryKey"`
	Ciphertext        []byte    `gorm:"not null"`
	WrappedBy         string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime"`
}

// InviteCode never holds the raw code, only its hash.
type InviteCode struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	CodeHash       string    `gorm:"not null;uniqueIndex"`
	Scope          string    `gorm:"not null"`
	WrappedKey     []byte    `gorm:"not null"`
	IssuerIdentity string    `gorm:"not null;index"`
	SingleUse      bool      `gorm:"not null;default:false"`
	ExpiresAt      time.Time `gorm:"not null;index"`
	RedeemedCount  int       `gorm:"not null;default:0"`
	Label          *string
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
}

type InviteRedemption struct {
	InviteID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RedeemerIdentity string    `gorm:"primaryKey"`
	RedeemedAt       time.Time `gorm:"not null"`
}

type KeyRequestStatus string

const (
	KeyRequestPending   KeyRequestStatus = "pending"
	KeyRequestFulfilled KeyRequestStatus = "fulfilled"
	KeyRequestRejected  KeyRequestStatus = "rejected"
)

func (s KeyRequestStatus) Terminal() bool { return s != KeyRequestPending }

type KeyRequest struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey"`
	ChannelID         string           `gorm:"not null;uniqueIndex:idx_key_requests_pair,priority:1"`
	RequesterIdentity string           `gorm:"not null;uniqueIndex:idx_key_requests_pair,priority:2"`
	RequesterPubkey   string           `gorm:"not null"`
	TargetIdentity    string           `gorm:"not null;default:''"`
	InviteCodeHash    *string
	GroupID           *string
	Status            KeyRequestStatus `gorm:"not null;default:'pending';index"`
	FulfilledBy       *string
	FulfilledAt       *time.Time `gorm:"type:timestamptz"`
	CreatedAt         time.Time  `gorm:"not null;autoCreateTime"`
}

// Message is the chat collaborator's message row. Once Encrypted is true the
// row is immutable.
type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ChannelID      string    `gorm:"not null;index"`
	SenderIdentity string    `gorm:"not null"`
	Body           []byte    `gorm:"not null"`
	Encrypted      bool      `gorm:"not null;default:false;index"`
	KeyVersion     *int
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
}

// MigrationState persists progress of a resumable migration.
type MigrationState struct {
	Name        string     `gorm:"primaryKey"`
	Completed   bool       `gorm:"not null;default:false"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`
	LastCursor  uint64     `gorm:"not null;default:0"`
	Migrated    int64      `gorm:"not null;default:0"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime"`
}

// All lists every model the tenant store migrates.
func All() []any {
	return []any{
		&Channel{}, &Member{}, &Group{}, &GroupMember{}, &ChannelGroup{},
		&WrappedChannelKey{}, &WrappedCommunityKey{}, &TeamKeyEscrow{}, &WrappedTeamKey{},
		&InviteCode{}, &InviteRedemption{}, &KeyRequest{}, &Message{}, &MigrationState{},
	}
}
