package store

import "encoding/json"

// NSFWPolicy controls how a rule treats NSFW content.
type NSFWPolicy string

const (
	NSFWPolicyAllow           NSFWPolicy = "allow"
	NSFWPolicyBlock           NSFWPolicy = "block"
	NSFWPolicySeparateChannel NSFWPolicy = "separate_channel"
)

// DistributionRule is a named filter plus push configuration. Contents
// matching MatchConditions are fanned out to the rule's targets.
//
// MatchConditions, AutoApproveConditions and RenderConfig are stored as
// raw JSON; they are parsed on use (pipeline/rules, plugin/sinks) so that
// unknown keys survive a read-modify-write cycle. Validation happens at
// the write boundary, not here.
type DistributionRule struct {
	ID   int64
	Name string

	Enabled  bool
	Priority int32

	MatchConditions       json.RawMessage
	AutoApproveConditions json.RawMessage
	RenderConfig          json.RawMessage

	NSFWPolicy       NSFWPolicy
	ApprovalRequired bool

	// RateLimit pushes per TimeWindowSec seconds; zero disables the cap.
	RateLimit     int32
	TimeWindowSec int32

	CreatedTs int64
	UpdatedTs int64
}

// CreateDistributionRule holds the fields for inserting a rule.
type CreateDistributionRule struct {
	Name                  string
	Enabled               bool
	Priority              int32
	MatchConditions       json.RawMessage
	AutoApproveConditions json.RawMessage
	RenderConfig          json.RawMessage
	NSFWPolicy            NSFWPolicy
	ApprovalRequired      bool
	RateLimit             int32
	TimeWindowSec         int32
}

// FindDistributionRule filters rule listings.
type FindDistributionRule struct {
	ID      *int64
	Enabled *bool
}

// UpdateDistributionRule applies a partial update to a rule.
type UpdateDistributionRule struct {
	ID int64

	Name                  *string
	Enabled               *bool
	Priority              *int32
	MatchConditions       *json.RawMessage
	AutoApproveConditions *json.RawMessage
	RenderConfig          *json.RawMessage
	NSFWPolicy            *NSFWPolicy
	ApprovalRequired      *bool
	RateLimit             *int32
	TimeWindowSec         *int32
}

// DistributionTarget links a rule to a bot chat, optionally overriding
// the rule's render config for that chat. (RuleID, BotChatID) is unique.
type DistributionTarget struct {
	ID                   int64
	RuleID               int64
	BotChatID            int64
	Enabled              bool
	RenderConfigOverride json.RawMessage
	CreatedTs            int64
}

// CreateDistributionTarget holds the fields for inserting a target link.
type CreateDistributionTarget struct {
	RuleID               int64
	BotChatID            int64
	Enabled              bool
	RenderConfigOverride json.RawMessage
}

// FindDistributionTarget filters target listings.
type FindDistributionTarget struct {
	RuleID    *int64
	RuleIDs   []int64
	BotChatID *int64
	Enabled   *bool
}

// UpdateDistributionTarget applies a partial update to a target link.
type UpdateDistributionTarget struct {
	ID                   int64
	Enabled              *bool
	RenderConfigOverride *json.RawMessage
}
