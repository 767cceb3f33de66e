// Package domain defines the persistence models for users, settings, chats,
// and messages. These types are mapped with GORM and form the core data layer
// of the avatar chat backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role is the closed author tag of a message. Only the two values below are
// valid; the persistence boundary rejects anything else.
type Role string

const (
	// RoleUser marks a message authored by the human user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by the assistant.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two allowed roles.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// User is an identity record owned by the credential store. It is created at
// registration and never mutated by the chat flow.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"       gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Settings holds per-user preferences, one row per user. FlowiseAPIKey is
// stored encrypted (hex "iv:ciphertext") and is never serialized in API
// responses.
type Settings struct {
	UserID         string    `json:"-"               gorm:"type:char(36);primaryKey"`
	SelectedAvatar string    `json:"selectedAvatar"  gorm:"type:varchar(64);not null;default:'default'"`
	SelectedVoice  string    `json:"selectedVoice"   gorm:"type:varchar(64);not null;default:'default'"`
	FlowiseAPIURL  string    `json:"flowiseApiUrl"   gorm:"type:text;not null;default:''"`
	FlowiseAPIKey  string    `json:"-"               gorm:"type:text;not null;default:''"`
	UpdatedAt      time.Time `json:"-"`
}

// TableName returns the database table name for Settings.
func (Settings) TableName() string { return "settings" }

// Chat represents a conversation owned by a user. A chat is created on the
// first message of a session; appending a message touches UpdatedAt so that
// chat listings surface the most recently active conversation first.
//
// Invariant: every chat has exactly one owner, and every read or write must
// match id AND user_id before returning or mutating data.
type Chat struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New chat'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Messages is populated by GetChat responses, ordered by timestamp
	// ascending. It is nil elsewhere.
	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ChatID;references:ID"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is a single utterance within a chat. Messages are immutable once
// created: there is no update or delete operation for individual messages.
// A chat's transcript is its messages ordered by CreatedAt ascending (ID as
// tiebreak for equal timestamps).
type Message struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"   gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role      Role           `json:"role"      gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string         `json:"content"   gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"timestamp" gorm:"index:idx_chat_msgs,priority:2"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`

	// Chat is the parent conversation. Messages are removed together with
	// their chat.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
