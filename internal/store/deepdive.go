package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"digger/internal/types"
)

// UpsertPackage inserts or refreshes a package row by its ID.
func (s *Store) UpsertPackage(p *types.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO package (id, project_id, name, package_type, file_path, description)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   package_type = excluded.package_type,
		   file_path = excluded.file_path,
		   description = excluded.description`,
		p.PackageID, p.ProjectID, p.Name, p.PackageType, p.FilePath, p.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}

// UpsertComponent inserts or refreshes a package component by its ID.
func (s *Store) UpsertComponent(c *types.PackageComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO package_component (id, package_id, name, type, order_index, properties)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   type = excluded.type,
		   order_index = excluded.order_index,
		   properties = excluded.properties`,
		c.ComponentID, c.PackageID, c.Name, c.Type, c.OrderIndex, marshalJSON(c.Properties),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert component: %w", err)
	}
	return nil
}

// UpsertTransformation inserts or refreshes a transformation IR row.
func (s *Store) UpsertTransformation(t *types.TransformationIR) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO transformation_ir (id, component_id, source_component_id, operation, expression)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   component_id = excluded.component_id,
		   source_component_id = excluded.source_component_id,
		   operation = excluded.operation,
		   expression = excluded.expression`,
		t.ID, t.ComponentID, nullable(t.SourceComponentID), t.Operation, t.Expression,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transformation: %w", err)
	}
	return nil
}

// InsertColumnLineage persists one resolved column lineage row.
func (s *Store) InsertColumnLineage(projectID string, cl *types.ColumnLineage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO column_lineage
		 (id, project_id, source_asset_id, source_column, target_asset_id, target_column, transformation_rule, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.ID, projectID, nullable(cl.SourceAssetRef), cl.SourceColumn,
		nullable(cl.TargetAssetRef), cl.TargetColumn, cl.TransformationRule, cl.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to insert column lineage: %w", err)
	}
	return nil
}

// ListColumnLineage returns all column lineage rows of a project.
func (s *Store) ListColumnLineage(projectID string) ([]types.ColumnLineage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, source_asset_id, source_column, target_asset_id, target_column, transformation_rule, confidence
		 FROM column_lineage WHERE project_id = ?`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list column lineage: %w", err)
	}
	defer rows.Close()

	var lineage []types.ColumnLineage
	for rows.Next() {
		var cl types.ColumnLineage
		var src, dst sql.NullString
		if err := rows.Scan(&cl.ID, &src, &cl.SourceColumn, &dst, &cl.TargetColumn,
			&cl.TransformationRule, &cl.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan column lineage: %w", err)
		}
		cl.SourceAssetRef = src.String
		cl.TargetAssetRef = dst.String
		lineage = append(lineage, cl)
	}
	return lineage, rows.Err()
}

// GetPackage returns a package by ID, or nil when absent.
func (s *Store) GetPackage(id string) (*types.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p types.Package
	err := s.db.QueryRow(
		"SELECT id, project_id, name, package_type, file_path, description FROM package WHERE id = ?", id,
	).Scan(&p.PackageID, &p.ProjectID, &p.Name, &p.PackageType, &p.FilePath, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &p, nil
}

// ListPackages returns all packages of a project.
func (s *Store) ListPackages(projectID string) ([]types.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, project_id, name, package_type, file_path, description FROM package WHERE project_id = ? ORDER BY name ASC",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var pkgs []types.Package
	for rows.Next() {
		var p types.Package
		if err := rows.Scan(&p.PackageID, &p.ProjectID, &p.Name, &p.PackageType, &p.FilePath, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// ListComponents returns the components of a package in flow order.
func (s *Store) ListComponents(packageID string) ([]types.PackageComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, package_id, name, type, order_index, properties FROM package_component WHERE package_id = ? ORDER BY order_index ASC",
		packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	var comps []types.PackageComponent
	for rows.Next() {
		var c types.PackageComponent
		var props string
		if err := rows.Scan(&c.ComponentID, &c.PackageID, &c.Name, &c.Type, &c.OrderIndex, &props); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		_ = json.Unmarshal([]byte(props), &c.Properties)
		comps = append(comps, c)
	}
	return comps, rows.Err()
}
