package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

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

func (d *DB) CreateDistributionRule(ctx context.Context, create *store.CreateDistributionRule) (*store.DistributionRule, error) {
	if create.NSFWPolicy == "" {
		create.NSFWPolicy = store.NSFWPolicyAllow
	}
	stmt := `
		INSERT INTO distribution_rule (name, enabled, priority, match_conditions, auto_approve_conditions, render_config,
			nsfw_policy, approval_required, rate_limit, time_window_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + ruleColumns
	rule, err := scanRule(d.db.QueryRowContext(ctx, stmt,
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
		return nil, errors.Wrap(err, "failed to create distribution rule")
	}
	return rule, nil
}

func (d *DB) ListDistributionRules(ctx context.Context, find *store.FindDistributionRule) ([]*store.DistributionRule, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = ?"), append(args, *find.Enabled)
	}

	query := "SELECT " + ruleColumns + " FROM distribution_rule WHERE " + strings.Join(where, " AND ") +
		" ORDER BY priority DESC, id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list distribution rules")
	}
	defer rows.Close()

	list := []*store.DistributionRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan distribution rule")
		}
		list = append(list, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate distribution rules")
	}
	return list, nil
}

func (d *DB) UpdateDistributionRule(ctx context.Context, update *store.UpdateDistributionRule) (*store.DistributionRule, error) {
	set, args := []string{"updated_ts = strftime('%s', 'now')"}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = ?"), append(args, *update.Name)
	}
	if update.Enabled != nil {
		set, args = append(set, "enabled = ?"), append(args, *update.Enabled)
	}
	if update.Priority != nil {
		set, args = append(set, "priority = ?"), append(args, *update.Priority)
	}
	if update.MatchConditions != nil {
		set, args = append(set, "match_conditions = ?"), append(args, rawOrEmpty(*update.MatchConditions, "{}"))
	}
	if update.AutoApproveConditions != nil {
		set, args = append(set, "auto_approve_conditions = ?"), append(args, rawOrEmpty(*update.AutoApproveConditions, ""))
	}
	if update.RenderConfig != nil {
		set, args = append(set, "render_config = ?"), append(args, rawOrEmpty(*update.RenderConfig, "{}"))
	}
	if update.NSFWPolicy != nil {
		set, args = append(set, "nsfw_policy = ?"), append(args, *update.NSFWPolicy)
	}
	if update.ApprovalRequired != nil {
		set, args = append(set, "approval_required = ?"), append(args, *update.ApprovalRequired)
	}
	if update.RateLimit != nil {
		set, args = append(set, "rate_limit = ?"), append(args, *update.RateLimit)
	}
	if update.TimeWindowSec != nil {
		set, args = append(set, "time_window_sec = ?"), append(args, *update.TimeWindowSec)
	}

	args = append(args, update.ID)
	stmt := "UPDATE distribution_rule SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + ruleColumns
	rule, err := scanRule(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("distribution rule %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update distribution rule")
	}
	return rule, nil
}

// DeleteDistributionRule removes a rule, its target links, and its queue
// items in one transaction.
func (d *DB) DeleteDistributionRule(ctx context.Context, id int64) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM content_queue_item WHERE rule_id = ?",
		"DELETE FROM distribution_target WHERE rule_id = ?",
		"DELETE FROM distribution_rule WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errors.Wrap(err, "failed to delete distribution rule")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
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

func (d *DB) CreateDistributionTarget(ctx context.Context, create *store.CreateDistributionTarget) (*store.DistributionTarget, error) {
	stmt := `
		INSERT INTO distribution_target (rule_id, bot_chat_id, enabled, render_config_override)
		VALUES (?, ?, ?, ?)
		RETURNING ` + targetColumns
	target, err := scanTarget(d.db.QueryRowContext(ctx, stmt,
		create.RuleID,
		create.BotChatID,
		create.Enabled,
		rawOrEmpty(create.RenderConfigOverride, ""),
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create distribution target")
	}
	return target, nil
}

func (d *DB) ListDistributionTargets(ctx context.Context, find *store.FindDistributionTarget) ([]*store.DistributionTarget, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.RuleID != nil {
		where, args = append(where, "rule_id = ?"), append(args, *find.RuleID)
	}
	if len(find.RuleIDs) > 0 {
		placeholders := make([]string, 0, len(find.RuleIDs))
		for _, ruleID := range find.RuleIDs {
			placeholders = append(placeholders, "?")
			args = append(args, ruleID)
		}
		where = append(where, "rule_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if find.BotChatID != nil {
		where, args = append(where, "bot_chat_id = ?"), append(args, *find.BotChatID)
	}
	if find.Enabled != nil {
		where, args = append(where, "enabled = ?"), append(args, *find.Enabled)
	}

	query := "SELECT " + targetColumns + " FROM distribution_target WHERE " + strings.Join(where, " AND ") +
		" ORDER BY id ASC"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list distribution targets")
	}
	defer rows.Close()

	list := []*store.DistributionTarget{}
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan distribution target")
		}
		list = append(list, target)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate distribution targets")
	}
	return list, nil
}

func (d *DB) UpdateDistributionTarget(ctx context.Context, update *store.UpdateDistributionTarget) (*store.DistributionTarget, error) {
	set, args := []string{}, []any{}

	if update.Enabled != nil {
		set, args = append(set, "enabled = ?"), append(args, *update.Enabled)
	}
	if update.RenderConfigOverride != nil {
		set, args = append(set, "render_config_override = ?"), append(args, rawOrEmpty(*update.RenderConfigOverride, ""))
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := "UPDATE distribution_target SET " + strings.Join(set, ", ") + " WHERE id = ? RETURNING " + targetColumns
	target, err := scanTarget(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Errorf("distribution target %d not found", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update distribution target")
	}
	return target, nil
}

func (d *DB) DeleteDistributionTarget(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM distribution_target WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "failed to delete distribution target")
	}
	return nil
}
