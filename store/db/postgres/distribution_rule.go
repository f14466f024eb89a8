package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linkhoard/linkhoard/store"
)

const ruleColumns = `id, name, enabled, priority, match_conditions, auto_approve_conditions, render_config,
	nsfw_policy, approval_required, rate_limit, time_window_sec, created_ts, updated_ts`

func scanRule(row rowScanner) (*store.DistributionRule, error) {
	var rule store.DistributionRule
	var matchConditions, autoApprove, renderConfig string
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&rule.Priority,
		&matchConditions,
		&autoApprove,
		&renderConfig,
		&rule.NSFWPolicy,
		&rule.ApprovalRequired,
		&rule.RateLimit,
		&rule.TimeWindowSec,
		&rule.CreatedTs,
		&rule.UpdatedTs,
	); err != nil {
		return nil, err
	}
	rule.MatchConditions = json.RawMessage(matchConditions)
	if autoApprove != "" {
		rule.AutoApproveConditions = json.RawMessage(autoApprove)
	}
	rule.RenderConfig = json.RawMessage(renderConfig)
	return &rule, nil
}

func (db *DB) CreateDistributionRule(ctx context.Context, create *store.CreateDistributionRule) (*store.DistributionRule, error) {
	if create.NSFWPolicy == "" {
		create.NSFWPolicy = store.NSFWPolicyAllow
	}
	query := `
		INSERT INTO distribution_rule (name, enabled, priority, match_conditions, auto_approve_conditions, render_config,
			nsfw_policy, approval_required, rate_limit, time_window_sec)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + ruleColumns
	rule, err := scanRule(db.db.QueryRowContext(ctx, query,
		create.Name,
		create.Enabled,
		create.Priority,
		rawOrEmpty(create.MatchConditions, "{}"),
		rawOrEmpty(create.AutoApproveConditions, ""),
		rawOrEmpty(create.RenderConfig, "{}"),
		create.NSFWPolicy,
		create.ApprovalRequired,
		create.RateLimit,
		create.TimeWindowSec,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution rule: %w", err)
	}
	return rule, nil
}

func (db *DB) ListDistributionRules(ctx context.Context, find *store.FindDistributionRule) ([]*store.DistributionRule, error) {
	query := "SELECT " + ruleColumns + " FROM distribution_rule WHERE 1=1"
	var args []interface{}

	if find.ID != nil {
		args = append(args, *find.ID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if find.Enabled != nil {
		args = append(args, *find.Enabled)
		query += fmt.Sprintf(" AND enabled = $%d", len(args))
	}

	query += " ORDER BY priority DESC, id ASC"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution rules: %w", err)
	}
	defer rows.Close()

	list := []*store.DistributionRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution rule: %w", err)
		}
		list = append(list, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list distribution rules: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateDistributionRule(ctx context.Context, update *store.UpdateDistributionRule) (*store.DistributionRule, error) {
	set, args := []string{"updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT"}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Name != nil {
		addSet("name", *update.Name)
	}
	if update.Enabled != nil {
		addSet("enabled", *update.Enabled)
	}
	if update.Priority != nil {
		addSet("priority", *update.Priority)
	}
	if update.MatchConditions != nil {
		addSet("match_conditions", rawOrEmpty(*update.MatchConditions, "{}"))
	}
	if update.AutoApproveConditions != nil {
		addSet("auto_approve_conditions", rawOrEmpty(*update.AutoApproveConditions, ""))
	}
	if update.RenderConfig != nil {
		addSet("render_config", rawOrEmpty(*update.RenderConfig, "{}"))
	}
	if update.NSFWPolicy != nil {
		addSet("nsfw_policy", *update.NSFWPolicy)
	}
	if update.ApprovalRequired != nil {
		addSet("approval_required", *update.ApprovalRequired)
	}
	if update.RateLimit != nil {
		addSet("rate_limit", *update.RateLimit)
	}
	if update.TimeWindowSec != nil {
		addSet("time_window_sec", *update.TimeWindowSec)
	}

	args = append(args, update.ID)
	query := "UPDATE distribution_rule SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + ruleColumns
	rule, err := scanRule(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("distribution rule %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update distribution rule: %w", err)
	}
	return rule, nil
}

func (db *DB) DeleteDistributionRule(ctx context.Context, id int64) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM distribution_rule WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete distribution rule: %w", err)
	}
	return nil
}

const targetColumns = `id, rule_id, bot_chat_id, enabled, render_config_override, created_ts`

func scanTarget(row rowScanner) (*store.DistributionTarget, error) {
	var target store.DistributionTarget
	var override string
	if err := row.Scan(
		&target.ID,
		&target.RuleID,
		&target.BotChatID,
		&target.Enabled,
		&override,
		&target.CreatedTs,
	); err != nil {
		return nil, err
	}
	if override != "" {
		target.RenderConfigOverride = json.RawMessage(override)
	}
	return &target, nil
}

func (db *DB) CreateDistributionTarget(ctx context.Context, create *store.CreateDistributionTarget) (*store.DistributionTarget, error) {
	query := `
		INSERT INTO distribution_target (rule_id, bot_chat_id, enabled, render_config_override)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + targetColumns
	target, err := scanTarget(db.db.QueryRowContext(ctx, query,
		create.RuleID,
		create.BotChatID,
		create.Enabled,
		rawOrEmpty(create.RenderConfigOverride, ""),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create distribution target: %w", err)
	}
	return target, nil
}

func (db *DB) ListDistributionTargets(ctx context.Context, find *store.FindDistributionTarget) ([]*store.DistributionTarget, error) {
	query := "SELECT " + targetColumns + " FROM distribution_target WHERE 1=1"
	var args []interface{}

	if find.RuleID != nil {
		args = append(args, *find.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	if len(find.RuleIDs) > 0 {
		placeholders := make([]string, 0, len(find.RuleIDs))
		for _, ruleID := range find.RuleIDs {
			args = append(args, ruleID)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		query += " AND rule_id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if find.BotChatID != nil {
		args = append(args, *find.BotChatID)
		query += fmt.Sprintf(" AND bot_chat_id = $%d", len(args))
	}
	if find.Enabled != nil {
		args = append(args, *find.Enabled)
		query += fmt.Sprintf(" AND enabled = $%d", len(args))
	}

	query += " ORDER BY id ASC"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution targets: %w", err)
	}
	defer rows.Close()

	list := []*store.DistributionTarget{}
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution target: %w", err)
		}
		list = append(list, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list distribution targets: %w", err)
	}
	return list, nil
}

func (db *DB) UpdateDistributionTarget(ctx context.Context, update *store.UpdateDistributionTarget) (*store.DistributionTarget, error) {
	set, args := []string{}, []interface{}{}
	addSet := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if update.Enabled != nil {
		addSet("enabled", *update.Enabled)
	}
	if update.RenderConfigOverride != nil {
		addSet("render_config_override", rawOrEmpty(*update.RenderConfigOverride, ""))
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	query := "UPDATE distribution_target SET " + strings.Join(set, ", ") +
		fmt.Sprintf(" WHERE id = $%d RETURNING ", len(args)) + targetColumns
	target, err := scanTarget(db.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("distribution target %d not found", update.ID)
		}
		return nil, fmt.Errorf("failed to update distribution target: %w", err)
	}
	return target, nil
}

func (db *DB) DeleteDistributionTarget(ctx context.Context, id int64) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM distribution_target WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete distribution target: %w", err)
	}
	return nil
}
