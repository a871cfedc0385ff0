package store

import (
	"database/sql"
	"errors"
	"fmt"

	"digger/internal/types"
)

// SavePlan persists a plan with its areas and items in one transaction.
func (s *Store) SavePlan(plan *types.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO job_plan (id, job_id, status, mode, total_files, total_cost_est, total_time_est)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.JobID, plan.Status, plan.Mode,
		plan.Summary.TotalFiles, plan.Summary.TotalCostEst, plan.Summary.TotalTimeEst,
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for _, area := range plan.Areas {
		_, err = tx.Exec(
			"INSERT INTO job_plan_area (id, plan_id, name, title, order_index) VALUES (?, ?, ?, ?, ?)",
			area.ID, plan.ID, area.Name, area.Title, area.OrderIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert plan area: %w", err)
		}
		for _, item := range area.Items {
			_, err = tx.Exec(
				`INSERT INTO job_plan_item
				 (id, area_id, path, file_hash, size_bytes, file_type, classifier, strategy,
				  recommended_action, reason, enabled, order_index, est_tokens, est_cost_usd,
				  est_time_seconds, status)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, area.ID, item.Path, item.FileHash, item.SizeBytes, item.FileType,
				item.Classifier, item.Strategy, item.RecommendedAction, item.Reason,
				item.Enabled, item.OrderIndex, item.Estimate.Tokens, item.Estimate.CostUSD,
				item.Estimate.TimeSeconds, item.Status,
			)
			if err != nil {
				return fmt.Errorf("failed to insert plan item: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}
	return nil
}

// GetPlan loads a plan with its areas and items, or nil when absent.
func (s *Store) GetPlan(id string) (*types.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlanLocked("id = ?", id)
}

// GetPlanByJob loads the plan belonging to a job, or nil when absent.
func (s *Store) GetPlanByJob(jobID string) (*types.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPlanLocked("job_id = ?", jobID)
}

func (s *Store) getPlanLocked(where string, arg any) (*types.Plan, error) {
	var plan types.Plan
	err := s.db.QueryRow(
		`SELECT id, job_id, status, mode, total_files, total_cost_est, total_time_est
		 FROM job_plan WHERE `+where+` ORDER BY created_at DESC LIMIT 1`, arg,
	).Scan(&plan.ID, &plan.JobID, &plan.Status, &plan.Mode,
		&plan.Summary.TotalFiles, &plan.Summary.TotalCostEst, &plan.Summary.TotalTimeEst)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	areaRows, err := s.db.Query(
		"SELECT id, plan_id, name, title, order_index FROM job_plan_area WHERE plan_id = ? ORDER BY order_index ASC",
		plan.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan areas: %w", err)
	}
	defer areaRows.Close()

	for areaRows.Next() {
		var area types.PlanArea
		if err := areaRows.Scan(&area.ID, &area.PlanID, &area.Name, &area.Title, &area.OrderIndex); err != nil {
			return nil, fmt.Errorf("failed to scan plan area: %w", err)
		}
		plan.Areas = append(plan.Areas, area)
	}
	if err := areaRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan areas: %w", err)
	}

	for i := range plan.Areas {
		items, err := s.listItemsLocked(plan.Areas[i].ID)
		if err != nil {
			return nil, err
		}
		plan.Areas[i].Items = items
	}
	return &plan, nil
}

func (s *Store) listItemsLocked(areaID string) ([]types.PlanItem, error) {
	rows, err := s.db.Query(
		`SELECT id, area_id, path, file_hash, size_bytes, file_type, classifier, strategy,
		        recommended_action, reason, enabled, order_index, est_tokens, est_cost_usd,
		        est_time_seconds, status
		 FROM job_plan_item WHERE area_id = ? ORDER BY order_index ASC, path ASC`, areaID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan items: %w", err)
	}
	defer rows.Close()

	var items []types.PlanItem
	for rows.Next() {
		var item types.PlanItem
		if err := rows.Scan(
			&item.ID, &item.AreaID, &item.Path, &item.FileHash, &item.SizeBytes,
			&item.FileType, &item.Classifier, &item.Strategy, &item.RecommendedAction,
			&item.Reason, &item.Enabled, &item.OrderIndex, &item.Estimate.Tokens,
			&item.Estimate.CostUSD, &item.Estimate.TimeSeconds, &item.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdatePlanStatus transitions a plan.
func (s *Store) UpdatePlanStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE job_plan SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	return nil
}

// UpdateItemStatus transitions a plan item.
func (s *Store) UpdateItemStatus(itemID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE job_plan_item SET status = ? WHERE id = ?", status, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}
	return nil
}

// PlanItemPatch carries optional edits to a plan item before approval.
type PlanItemPatch struct {
	Enabled    *bool
	OrderIndex *int
	AreaID     *string
}

// UpdatePlanItem applies a patch to a plan item.
func (s *Store) UpdatePlanItem(itemID string, patch PlanItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.Enabled != nil {
		if _, err := s.db.Exec("UPDATE job_plan_item SET enabled = ? WHERE id = ?", *patch.Enabled, itemID); err != nil {
			return fmt.Errorf("failed to update item enabled: %w", err)
		}
	}
	if patch.OrderIndex != nil {
		if _, err := s.db.Exec("UPDATE job_plan_item SET order_index = ? WHERE id = ?", *patch.OrderIndex, itemID); err != nil {
			return fmt.Errorf("failed to update item order: %w", err)
		}
	}
	if patch.AreaID != nil {
		if _, err := s.db.Exec("UPDATE job_plan_item SET area_id = ? WHERE id = ?", *patch.AreaID, itemID); err != nil {
			return fmt.Errorf("failed to update item area: %w", err)
		}
	}
	return nil
}
