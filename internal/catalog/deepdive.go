package catalog

import (
	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/types"
)

// SyncDeepDive persists a deep-dive result: the package, its components
// (bridged into assets), transformation rows, and column lineage, plus a
// DETAILED_LINEAGE edge for every lineage row whose endpoints resolve.
// nodeMap is the node_id map from the macro pass over the same file.
func (c *Syncer) SyncDeepDive(projectID string, dd *types.DeepDiveResult, nodeMap map[string]string) error {
	log := logging.L(logging.CategoryCatalog)
	if dd == nil {
		return nil
	}

	var pkgName string
	if dd.Package != nil {
		if dd.Package.PackageID == "" || !isUUID(dd.Package.PackageID) {
			dd.Package.PackageID = uuid.NewString()
		}
		dd.Package.ProjectID = projectID
		pkgName = dd.Package.Name
		if err := c.store.UpsertPackage(dd.Package); err != nil {
			return err
		}
	}

	componentMap := make(map[string]string, len(dd.Components))
	for i := range dd.Components {
		comp := &dd.Components[i]
		if comp.ComponentID == "" || !isUUID(comp.ComponentID) {
			comp.ComponentID = uuid.NewString()
		}
		if dd.Package != nil {
			comp.PackageID = dd.Package.PackageID
		}
		if err := c.store.UpsertComponent(comp); err != nil {
			return err
		}
		assetID, err := c.bridgeComponent(projectID, pkgName, comp)
		if err != nil {
			return err
		}
		componentMap[comp.ComponentID] = assetID
	}

	for i := range dd.Transformations {
		tr := &dd.Transformations[i]
		if tr.ID == "" || !isUUID(tr.ID) {
			tr.ID = uuid.NewString()
		}
		if tr.SourceComponentID != "" && !isUUID(tr.SourceComponentID) {
			tr.SourceComponentID = ""
		}
		if err := c.store.UpsertTransformation(tr); err != nil {
			return err
		}
	}

	resolver := c.NewResolver(projectID, nodeMap, componentMap)
	linked, unresolved := 0, 0
	for i := range dd.Lineage {
		cl := &dd.Lineage[i]
		if cl.ID == "" {
			cl.ID = uuid.NewString()
		}
		if err := c.store.InsertColumnLineage(projectID, cl); err != nil {
			return err
		}

		fromID := resolver.Resolve(cl.SourceAssetRef, cl.SourceColumn)
		toID := resolver.Resolve(cl.TargetAssetRef, cl.TargetColumn)
		if fromID == "" || toID == "" || fromID == toID {
			unresolved++
			continue
		}
		edge := types.ExtractedEdge{
			EdgeType:   types.EdgeDetailedLineage,
			Confidence: cl.Confidence,
			Rationale:  cl.TransformationRule,
		}
		if _, err := c.upsertEdge(projectID, fromID, toID, edge, "deep_dive"); err != nil {
			return err
		}
		linked++
	}

	log.Debugw("deep dive synced",
		"project_id", projectID, "package", pkgName,
		"components", len(componentMap), "lineage_rows", len(dd.Lineage),
		"lineage_edges", linked, "lineage_unresolved", unresolved)
	return nil
}

// bridgeComponent mirrors a package component into the asset table so
// lineage edges can reference it. The component ID is kept as a tag
// back-reference.
func (c *Syncer) bridgeComponent(projectID, pkgName string, comp *types.PackageComponent) (string, error) {
	assetType := "COMPONENT_" + comp.Type
	tags := map[string]any{"component_id": comp.ComponentID}

	existing, err := c.store.FindAsset(projectID, comp.Name, assetType)
	if err != nil {
		return "", err
	}
	if existing != nil {
		merged := existing.Tags
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range tags {
			merged[k] = v
		}
		if err := c.store.UpdateAsset(existing.ID, "etl", merged); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	asset := &types.Asset{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		AssetType:     assetType,
		NameDisplay:   comp.Name,
		CanonicalName: pkgName + ":" + comp.Name,
		System:        "etl",
		Tags:          tags,
	}
	if err := c.store.InsertAsset(asset); err != nil {
		return "", err
	}
	return asset.ID, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
