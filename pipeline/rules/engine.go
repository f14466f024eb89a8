// Package rules evaluates distribution rules against contents: condition
// matching, per-target push decisions and NSFW routing.
package rules

import (
	"encoding/json"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/linkhoard/linkhoard/store"
)

// Bucket is the outcome class of a per-target decision.
type Bucket string

const (
	BucketFiltered      Bucket = "FILTERED"
	BucketPendingReview Bucket = "PENDING_REVIEW"
	BucketWillPush      Bucket = "WILL_PUSH"
)

// Filter codes attached to FILTERED decisions.
const (
	CodeNotReviewed  = "not_reviewed"
	CodeNSFWBlocked  = "nsfw_blocked"
	CodeNSFWNoTarget = "nsfw_no_target"
)

// NSFWRouting is the cached routing decision stored on a queue item.
type NSFWRouting struct {
	TargetID string `json:"target_id"`
	Routed   bool   `json:"routed"`
}

// Decision is the outcome of evaluating one (content, rule, chat) triple.
type Decision struct {
	Bucket Bucket
	// Code explains a FILTERED bucket.
	Code string
	// TargetID is the resolved destination chat id (post NSFW routing).
	TargetID string
	// NSFWRoutingResult is the serialized routing cache.
	NSFWRoutingResult json.RawMessage
}

// Engine matches contents against rule conditions. The CEL environment
// and compiled programs are cached; Engine is concurrent-safe.
type Engine struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("platform", cel.StringType),
		cel.Variable("content_type", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("is_nsfw", cel.BoolType),
		cel.Variable("author_name", cel.StringType),
		cel.Variable("title", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}
	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Matches evaluates a conditions blob against a content. All configured
// fields combine with AND.
func (e *Engine) Matches(content *store.Content, conditionsRaw json.RawMessage) (bool, error) {
	conditions, err := parseConditions(conditionsRaw)
	if err != nil {
		return false, err
	}

	if len(conditions.Tags) > 0 && !matchTags(content.Tags, conditions.Tags, conditions.TagsMatchMode) {
		return false, nil
	}
	if len(conditions.Platform) > 0 && !containsString(conditions.Platform, string(content.Platform)) {
		return false, nil
	}
	if len(conditions.ContentType) > 0 && !containsString(conditions.ContentType, content.ContentType) {
		return false, nil
	}
	if conditions.IsNSFW != nil && *conditions.IsNSFW != content.IsNSFW {
		return false, nil
	}
	if conditions.Expression != "" {
		ok, err := e.evalExpression(content, conditions.Expression)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Decide evaluates the per-target outcome for one (content, rule, chat)
// triple. requireApproval is true while the content awaits review.
func (e *Engine) Decide(content *store.Content, rule *store.DistributionRule, chat *store.BotChat, requireApproval bool) *Decision {
	if requireApproval && !rule.ApprovalRequired {
		return &Decision{Bucket: BucketFiltered, Code: CodeNotReviewed}
	}

	routing := NSFWRouting{TargetID: chat.ChatID}
	if content.IsNSFW {
		switch rule.NSFWPolicy {
		case store.NSFWPolicyBlock:
			return &Decision{Bucket: BucketFiltered, Code: CodeNSFWBlocked}
		case store.NSFWPolicySeparateChannel:
			if chat.NSFWChatID == "" {
				return &Decision{Bucket: BucketFiltered, Code: CodeNSFWNoTarget}
			}
			routing = NSFWRouting{TargetID: chat.NSFWChatID, Routed: true}
		}
	}

	bucket := BucketWillPush
	if requireApproval {
		bucket = BucketPendingReview
	}

	cache, _ := json.Marshal(routing)
	return &Decision{
		Bucket:            bucket,
		TargetID:          routing.TargetID,
		NSFWRoutingResult: cache,
	}
}

// AutoApprove reports whether the rule's auto_approve_conditions match
// the content. Rules without auto-approve conditions never auto-approve.
func (e *Engine) AutoApprove(content *store.Content, rule *store.DistributionRule) (bool, error) {
	if len(rule.AutoApproveConditions) == 0 || string(rule.AutoApproveConditions) == "null" {
		return false, nil
	}
	return e.Matches(content, rule.AutoApproveConditions)
}

func (e *Engine) evalExpression(content *store.Content, expression string) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	tags := content.Tags
	if tags == nil {
		tags = []string{}
	}
	out, _, err := program.Eval(map[string]any{
		"platform":     string(content.Platform),
		"content_type": content.ContentType,
		"tags":         tags,
		"is_nsfw":      content.IsNSFW,
		"author_name":  content.AuthorName,
		"title":        content.Title,
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate expression %q", expression)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q is not a boolean predicate", expression)
	}
	return result, nil
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok := e.programs[expression]; ok {
		return program, nil
	}

	celAST, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid expression: %s", expression)
	}
	program, err := e.env.Program(celAST)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build program for %s", expression)
	}
	e.programs[expression] = program
	return program, nil
}

func matchTags(contentTags, ruleTags []string, mode string) bool {
	tagSet := make(map[string]bool, len(contentTags))
	for _, tag := range contentTags {
		tagSet[tag] = true
	}
	if mode == "all" {
		for _, tag := range ruleTags {
			if !tagSet[tag] {
				return false
			}
		}
		return true
	}
	for _, tag := range ruleTags {
		if tagSet[tag] {
			return true
		}
	}
	return false
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
