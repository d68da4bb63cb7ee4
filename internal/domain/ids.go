// Package domain contains entity without logic, just meta-data
package domain

import "github.com/google/uuid"

type (
	ChannelID   string
	ChannelName string
	UserID      string
	CommunityID string
)

// NewChannelID mints a fresh channel identifier.
func NewChannelID() ChannelID { return ChannelID(uuid.NewString()) }

// NewUserID mints a fresh user identifier.
func NewUserID() UserID { return UserID(uuid.NewString()) }
