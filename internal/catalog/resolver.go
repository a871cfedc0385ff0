package catalog

import (
	"strings"

	"github.com/google/uuid"
)

// Resolver maps the loose asset references a deep-dive emits (asset UUIDs,
// component IDs, extraction node IDs, plain or dotted names) onto catalog
// asset UUIDs.
type Resolver struct {
	syncer       *Syncer
	projectID    string
	nodeMap      map[string]string // extraction node_id -> asset_id
	componentMap map[string]string // component_id -> bridged asset_id
}

// NewResolver builds a resolver scoped to one project. nodeMap may come
// from the macro extraction pass; componentMap from the deep-dive bridge.
func (c *Syncer) NewResolver(projectID string, nodeMap, componentMap map[string]string) *Resolver {
	if nodeMap == nil {
		nodeMap = map[string]string{}
	}
	if componentMap == nil {
		componentMap = map[string]string{}
	}
	return &Resolver{syncer: c, projectID: projectID, nodeMap: nodeMap, componentMap: componentMap}
}

// Resolve maps ref to an asset UUID, or "" when nothing matches.
// column, when present, lets a dotted "schema.table.col" reference fall
// back to its table asset.
func (r *Resolver) Resolve(ref, column string) string {
	if ref == "" {
		return ""
	}
	if _, err := uuid.Parse(ref); err == nil {
		if asset, err := r.syncer.store.GetAsset(ref); err == nil && asset != nil {
			return asset.ID
		}
	}
	if id, ok := r.componentMap[ref]; ok {
		return id
	}
	if id, ok := r.nodeMap[ref]; ok {
		return id
	}
	if asset, err := r.syncer.store.FindAssetByName(r.projectID, ref); err == nil && asset != nil {
		return asset.ID
	}
	// Dotted column reference: schema.table.col resolves to the table.
	if parts := strings.Split(column, "."); len(parts) >= 2 {
		table := parts[len(parts)-2]
		if asset, err := r.syncer.store.FindAssetByName(r.projectID, table); err == nil && asset != nil {
			return asset.ID
		}
	}
	return ""
}
