package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"digger/internal/types"
)

func scanAsset(scanner interface{ Scan(...any) error }) (*types.Asset, error) {
	var a types.Asset
	var tags string
	err := scanner.Scan(&a.ID, &a.ProjectID, &a.AssetType, &a.NameDisplay,
		&a.CanonicalName, &a.System, &tags, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &a.Tags)
	}
	return &a, nil
}

const assetColumns = "id, project_id, asset_type, name_display, canonical_name, system, tags, created_at, updated_at"

// FindAsset looks an asset up by its dedup key, returning nil when absent.
func (s *Store) FindAsset(projectID, nameDisplay, assetType string) (*types.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAsset(s.db.QueryRow(
		"SELECT "+assetColumns+" FROM asset WHERE project_id = ? AND name_display = ? AND asset_type = ?",
		projectID, nameDisplay, assetType,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset: %w", err)
	}
	return a, nil
}

// FindAssetByName looks an asset up by display or canonical name alone.
func (s *Store) FindAssetByName(projectID, name string) (*types.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAsset(s.db.QueryRow(
		"SELECT "+assetColumns+" FROM asset WHERE project_id = ? AND (name_display = ? OR canonical_name = ?) LIMIT 1",
		projectID, name, name,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset by name: %w", err)
	}
	return a, nil
}

// GetAsset returns an asset by UUID, or nil when absent.
func (s *Store) GetAsset(id string) (*types.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAsset(s.db.QueryRow("SELECT "+assetColumns+" FROM asset WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return a, nil
}

// InsertAsset persists a new asset row.
func (s *Store) InsertAsset(a *types.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO asset (id, project_id, asset_type, name_display, canonical_name, system, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.AssetType, a.NameDisplay, a.CanonicalName, a.System, marshalJSON(a.Tags),
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// UpdateAsset refreshes tags and system on an existing asset.
func (s *Store) UpdateAsset(id, system string, tags map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE asset SET tags = ?, system = ?, updated_at = ? WHERE id = ?",
		marshalJSON(tags), system, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	return nil
}

// ListAssets returns all assets of a project.
func (s *Store) ListAssets(projectID string) ([]types.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+assetColumns+" FROM asset WHERE project_id = ? ORDER BY name_display ASC",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []types.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// CountAssets returns the number of assets in a project.
func (s *Store) CountAssets(projectID string) (int, error) {
	return s.countByProject("asset", projectID)
}

// CountEdges returns the number of edges in a project.
func (s *Store) CountEdges(projectID string) (int, error) {
	return s.countByProject("edge_index", projectID)
}

// CountEvidence returns the number of evidence rows in a project.
func (s *Store) CountEvidence(projectID string) (int, error) {
	return s.countByProject("evidence", projectID)
}

func (s *Store) countByProject(table, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE project_id = ?", projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// FindEvidence looks evidence up by its dedup key (hash, file path).
func (s *Store) FindEvidence(projectID, hash, filePath string) (*types.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec types.EvidenceRecord
	var locator string
	err := s.db.QueryRow(
		`SELECT id, project_id, file_path, kind, locator, snippet, hash
		 FROM evidence WHERE project_id = ? AND hash = ? AND file_path = ?`,
		projectID, hash, filePath,
	).Scan(&rec.ID, &rec.ProjectID, &rec.FilePath, &rec.Kind, &locator, &rec.Snippet, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find evidence: %w", err)
	}
	_ = json.Unmarshal([]byte(locator), &rec.Locator)
	return &rec, nil
}

// HasEvidenceForFile reports whether evidence exists for the exact
// (project, file, hash) triple. The planner uses it to skip unchanged files.
func (s *Store) HasEvidenceForFile(projectID, filePath, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM evidence WHERE project_id = ? AND file_path = ? AND hash = ?",
		projectID, filePath, hash,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check evidence: %w", err)
	}
	return n > 0, nil
}

// InsertEvidence persists a new evidence row.
func (s *Store) InsertEvidence(rec *types.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO evidence (id, project_id, file_path, kind, locator, snippet, hash) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.ProjectID, rec.FilePath, rec.Kind, marshalJSON(rec.Locator), rec.Snippet, rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	return nil
}

// FindEdge looks an edge up by its dedup key.
func (s *Store) FindEdge(projectID, fromID, toID, edgeType string) (*types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e types.Edge
	err := s.db.QueryRow(
		`SELECT id, project_id, from_asset_id, to_asset_id, edge_type, confidence, is_hypothesis, extractor_id, rationale
		 FROM edge_index WHERE project_id = ? AND from_asset_id = ? AND to_asset_id = ? AND edge_type = ?`,
		projectID, fromID, toID, edgeType,
	).Scan(&e.ID, &e.ProjectID, &e.FromAssetID, &e.ToAssetID, &e.EdgeType,
		&e.Confidence, &e.IsHypothesis, &e.ExtractorID, &e.Rationale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find edge: %w", err)
	}
	return &e, nil
}

// InsertEdge persists a new edge row.
func (s *Store) InsertEdge(e *types.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO edge_index (id, project_id, from_asset_id, to_asset_id, edge_type, confidence, is_hypothesis, extractor_id, rationale)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.FromAssetID, e.ToAssetID, e.EdgeType,
		e.Confidence, e.IsHypothesis, e.ExtractorID, e.Rationale,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// UpdateEdge refreshes confidence, hypothesis flag, and extractor on an
// existing edge.
func (s *Store) UpdateEdge(id string, confidence float64, isHypothesis bool, extractorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE edge_index SET confidence = ?, is_hypothesis = ?, extractor_id = ? WHERE id = ?",
		confidence, isHypothesis, extractorID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update edge: %w", err)
	}
	return nil
}

// ListEdges returns all edges of a project.
func (s *Store) ListEdges(projectID string) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, from_asset_id, to_asset_id, edge_type, confidence, is_hypothesis, extractor_id, rationale
		 FROM edge_index WHERE project_id = ?`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []types.Edge
	for rows.Next() {
		var e types.Edge
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FromAssetID, &e.ToAssetID, &e.EdgeType,
			&e.Confidence, &e.IsHypothesis, &e.ExtractorID, &e.Rationale); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// LinkEdgeEvidence links an evidence row to an edge, ignoring duplicates.
func (s *Store) LinkEdgeEvidence(edgeID, evidenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO edge_evidence (edge_id, evidence_id) VALUES (?, ?)",
		edgeID, evidenceID,
	)
	if err != nil {
		return fmt.Errorf("failed to link edge evidence: %w", err)
	}
	return nil
}
