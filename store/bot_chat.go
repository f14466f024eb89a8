package store

import "strings"

// ChatType is the platform-specific kind of an addressable chat.
type ChatType string

const (
	ChatTypeChannel    ChatType = "channel"
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypePrivate    ChatType = "private"
	ChatTypeQQGroup    ChatType = "qq_group"
	ChatTypeQQPrivate  ChatType = "qq_private"
)

// BotChat is an addressable push sink: a Telegram chat or a QQ group.
type BotChat struct {
	ID           int64
	ChatID       string
	ChatType     ChatType
	Title        string
	Enabled      bool
	IsAccessible bool
	// NSFWChatID, when set, receives NSFW content routed by rules with
	// the separate_channel policy.
	NSFWChatID string

	TotalPushed  int64
	LastPushedTs int64

	CreatedTs int64
	UpdatedTs int64
}

// PlatformType derives the sink platform from the chat type:
// qq_* chat types are QQ, everything else is Telegram.
func (c *BotChat) PlatformType() string {
	if strings.HasPrefix(string(c.ChatType), "qq_") {
		return "qq"
	}
	return "telegram"
}

// CreateBotChat holds the fields for inserting a bot chat.
type CreateBotChat struct {
	ChatID       string
	ChatType     ChatType
	Title        string
	Enabled      bool
	IsAccessible bool
	NSFWChatID   string
}

// FindBotChat filters bot chat listings.
type FindBotChat struct {
	ID           *int64
	IDs          []int64
	ChatID       *string
	Enabled      *bool
	IsAccessible *bool
}

// UpdateBotChat applies a partial update to a bot chat.
type UpdateBotChat struct {
	ID           int64
	Title        *string
	Enabled      *bool
	IsAccessible *bool
	NSFWChatID   *string
	LastPushedTs *int64
}
