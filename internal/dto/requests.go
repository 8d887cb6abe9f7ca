package dto

import "time"

type KeyRequest struct {
	ID                string     `json:"id"`
	ChannelID         string     `json:"channelId"`
	RequesterIdentity string     `json:"requesterIdentity"`
	RequesterPubkey   string     `json:"requesterPubkey"`
	TargetIdentity    string     `json:"targetIdentity,omitempty"`
	GroupID           *string    `json:"groupId,omitempty"`
	InviteCodeHash    *string    `json:"inviteCodeHash,omitempty"`
	Status            string     `json:"status"`
	FulfilledBy       *string    `json:"fulfilledBy,omitempty"`
	FulfilledAt       *time.Time `json:"fulfilledAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type FulfillRequest struct {
	Fulfiller  string `json:"fulfiller"`
	WrappedKey []byte `json:"wrappedKey"`
}
