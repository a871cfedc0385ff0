package store

import (
	"database/sql"
	"errors"
	"fmt"

	"digger/internal/types"
)

// SavePromptLayer upserts a prompt layer by ID.
func (s *Store) SavePromptLayer(layer *types.PromptLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO prompt_layer (id, name, layer_type, content) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, layer_type = excluded.layer_type, content = excluded.content`,
		layer.ID, layer.Name, layer.LayerType, layer.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to save prompt layer: %w", err)
	}
	return nil
}

// SetActionPromptConfig binds an action name to up to one layer per scope.
// Empty layer IDs clear the binding.
func (s *Store) SetActionPromptConfig(action, baseID, domainID, orgID, reasonerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO action_prompt_config (action_name, base_layer_id, domain_layer_id, org_layer_id, reasoner_layer_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(action_name) DO UPDATE SET
		   base_layer_id = excluded.base_layer_id,
		   domain_layer_id = excluded.domain_layer_id,
		   org_layer_id = excluded.org_layer_id,
		   reasoner_layer_id = excluded.reasoner_layer_id`,
		action, nullable(baseID), nullable(domainID), nullable(orgID), nullable(reasonerID),
	)
	if err != nil {
		return fmt.Errorf("failed to set action prompt config: %w", err)
	}
	return nil
}

// SetProjectActionConfig overrides the SOLUTION layer for one project+action.
func (s *Store) SetProjectActionConfig(projectID, action, solutionLayerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO project_action_config (project_id, action_name, solution_layer_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT(project_id, action_name) DO UPDATE SET solution_layer_id = excluded.solution_layer_id`,
		projectID, action, nullable(solutionLayerID),
	)
	if err != nil {
		return fmt.Errorf("failed to set project action config: %w", err)
	}
	return nil
}

// ActionLayers returns the resolved layer contents for an action, keyed by
// layer scope (BASE, DOMAIN, ORG, REASONER). Missing scopes are absent.
func (s *Store) ActionLayers(action string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var baseID, domainID, orgID, reasonerID sql.NullString
	err := s.db.QueryRow(
		`SELECT base_layer_id, domain_layer_id, org_layer_id, reasoner_layer_id
		 FROM action_prompt_config WHERE action_name = ?`, action,
	).Scan(&baseID, &domainID, &orgID, &reasonerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action prompt config: %w", err)
	}

	layers := make(map[string]string)
	for scope, id := range map[string]sql.NullString{
		types.LayerBase:     baseID,
		types.LayerDomain:   domainID,
		types.LayerOrg:      orgID,
		types.LayerReasoner: reasonerID,
	} {
		if !id.Valid || id.String == "" {
			continue
		}
		content, err := s.layerContentLocked(id.String)
		if err != nil {
			return nil, err
		}
		if content != "" {
			layers[scope] = content
		}
	}
	return layers, nil
}

// SolutionLayer returns the project-specific SOLUTION layer content for an
// action, or empty when none is configured.
func (s *Store) SolutionLayer(projectID, action string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var layerID sql.NullString
	err := s.db.QueryRow(
		"SELECT solution_layer_id FROM project_action_config WHERE project_id = ? AND action_name = ?",
		projectID, action,
	).Scan(&layerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get project action config: %w", err)
	}
	if !layerID.Valid || layerID.String == "" {
		return "", nil
	}
	return s.layerContentLocked(layerID.String)
}

func (s *Store) layerContentLocked(id string) (string, error) {
	var content string
	err := s.db.QueryRow("SELECT content FROM prompt_layer WHERE id = ?", id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get prompt layer: %w", err)
	}
	return content, nil
}
