// Package catalog persists extraction and deep-dive results into the
// relational store, deduplicating assets, evidences, and edges.
package catalog

import (
	"fmt"

	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// Syncer writes extraction results into the catalog tables.
type Syncer struct {
	store *store.Store
}

// NewSyncer creates a syncer over the given store.
func NewSyncer(s *store.Store) *Syncer {
	return &Syncer{store: s}
}

// SyncExtraction persists one extraction result. Writes are ordered assets,
// evidences, edges so edge resolution sees fresh asset IDs. Returns the
// local node_id to asset UUID map for downstream lineage resolution.
func (c *Syncer) SyncExtraction(projectID string, res *types.ExtractionResult) (map[string]string, error) {
	log := logging.L(logging.CategoryCatalog)
	nodeMap := make(map[string]string, len(res.Nodes))

	for _, node := range res.Nodes {
		assetID, err := c.upsertNode(projectID, node)
		if err != nil {
			return nil, err
		}
		nodeMap[node.NodeID] = assetID
	}

	// Parent references are tagged with the parent's asset UUID, which is
	// only known once every node has been mapped.
	for _, node := range res.Nodes {
		if node.ParentNodeID == "" {
			continue
		}
		parentID, ok := nodeMap[node.ParentNodeID]
		if !ok {
			continue
		}
		if err := c.tagAsset(nodeMap[node.NodeID], "parent_node_id", parentID); err != nil {
			return nil, err
		}
	}

	evidenceIDs := make([]string, len(res.Evidences))
	for i, ev := range res.Evidences {
		id, err := c.upsertEvidence(projectID, ev)
		if err != nil {
			return nil, err
		}
		evidenceIDs[i] = id
	}

	synced, skipped := 0, 0
	for _, edge := range res.Edges {
		fromID, okFrom := nodeMap[edge.FromNodeID]
		toID, okTo := nodeMap[edge.ToNodeID]
		if !okFrom || !okTo {
			skipped++
			continue
		}
		edgeID, err := c.upsertEdge(projectID, fromID, toID, edge, res.Meta.ExtractorID)
		if err != nil {
			return nil, err
		}
		for _, ref := range edge.EvidenceRefs {
			if ref < 0 || ref >= len(evidenceIDs) {
				continue
			}
			if err := c.store.LinkEdgeEvidence(edgeID, evidenceIDs[ref]); err != nil {
				return nil, err
			}
		}
		synced++
	}

	log.Debugw("extraction synced",
		"project_id", projectID, "source", res.Meta.SourceFile,
		"assets", len(nodeMap), "edges", synced, "edges_skipped", skipped)
	return nodeMap, nil
}

// upsertNode looks up an asset by (project, display name, type), merging
// tags on hit and inserting on miss.
func (c *Syncer) upsertNode(projectID string, node types.ExtractedNode) (string, error) {
	existing, err := c.store.FindAsset(projectID, node.Name, node.NodeType)
	if err != nil {
		return "", err
	}

	tags := map[string]any{}
	for k, v := range node.Attributes {
		tags[k] = v
	}

	if existing != nil {
		merged := existing.Tags
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range tags {
			merged[k] = v
		}
		if err := c.store.UpdateAsset(existing.ID, node.System, merged); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	asset := &types.Asset{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		AssetType:     node.NodeType,
		NameDisplay:   node.Name,
		CanonicalName: node.Name,
		System:        node.System,
		Tags:          tags,
	}
	if err := c.store.InsertAsset(asset); err != nil {
		return "", fmt.Errorf("failed to insert asset %q: %w", node.Name, err)
	}
	return asset.ID, nil
}

// tagAsset merges one tag into an existing asset.
func (c *Syncer) tagAsset(assetID, key string, value any) error {
	asset, err := c.store.GetAsset(assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}
	tags := asset.Tags
	if tags == nil {
		tags = map[string]any{}
	}
	tags[key] = value
	return c.store.UpdateAsset(assetID, asset.System, tags)
}

// upsertEvidence deduplicates by (project, hash, file path) when the
// snippet is hashed; unhashed evidence is always inserted.
func (c *Syncer) upsertEvidence(projectID string, ev types.Evidence) (string, error) {
	if ev.Hash != "" {
		existing, err := c.store.FindEvidence(projectID, ev.Hash, ev.FilePath)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}
	rec := &types.EvidenceRecord{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		FilePath:  ev.FilePath,
		Kind:      ev.Kind,
		Locator:   ev.Locator,
		Snippet:   ev.Snippet,
		Hash:      ev.Hash,
	}
	if err := c.store.InsertEvidence(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// upsertEdge deduplicates by (project, from, to, type); a re-observed edge
// refreshes its confidence and hypothesis status.
func (c *Syncer) upsertEdge(projectID, fromID, toID string, edge types.ExtractedEdge, extractorID string) (string, error) {
	existing, err := c.store.FindEdge(projectID, fromID, toID, edge.EdgeType)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := c.store.UpdateEdge(existing.ID, edge.Confidence, edge.IsHypothesis, extractorID); err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	row := &types.Edge{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		FromAssetID:  fromID,
		ToAssetID:    toID,
		EdgeType:     edge.EdgeType,
		Confidence:   edge.Confidence,
		IsHypothesis: edge.IsHypothesis,
		ExtractorID:  extractorID,
		Rationale:    edge.Rationale,
	}
	if err := c.store.InsertEdge(row); err != nil {
		return "", err
	}
	return row.ID, nil
}
