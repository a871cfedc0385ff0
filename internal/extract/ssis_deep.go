package extract

import (
	"strings"

	"github.com/google/uuid"

	"digger/internal/types"
)

// DeepDiveSSIS is the column-level pass over a DTSX package: the package
// row, its components, transformation IR from embedded SQL and expressions,
// and one column lineage row per data-flow path between table-bearing
// endpoints.
func DeepDiveSSIS(in Input) (*types.DeepDiveResult, error) {
	pkg, err := walkSSIS(in.Path, in.Content)
	if err != nil {
		return nil, err
	}

	result := &types.DeepDiveResult{
		Package: &types.Package{
			PackageID:   uuid.NewString(),
			ProjectID:   in.ProjectID,
			Name:        pkg.Name,
			PackageType: "SSIS",
			FilePath:    in.Path,
		},
	}

	// refId -> generated component UUID, and refId -> touched table.
	compIDs := make(map[string]string, len(pkg.Components))
	compTables := make(map[string]string, len(pkg.Components))

	for i, comp := range pkg.Components {
		componentID := uuid.NewString()
		if comp.RefID != "" {
			compIDs[comp.RefID] = componentID
		}
		if table := componentTable(comp); table != "" {
			compTables[comp.RefID] = table
		}

		props := map[string]any{}
		if comp.ClassID != "" {
			props["class_id"] = comp.ClassID
		}
		if comp.OpenRowset != "" {
			props["open_rowset"] = comp.OpenRowset
		}
		result.Components = append(result.Components, types.PackageComponent{
			ComponentID: componentID,
			PackageID:   result.Package.PackageID,
			Name:        comp.Name,
			Type:        componentRole(comp),
			OrderIndex:  i,
			Properties:  props,
		})

		if comp.SqlCommand != "" {
			result.Transformations = append(result.Transformations, types.TransformationIR{
				ID:          uuid.NewString(),
				ComponentID: componentID,
				Operation:   types.OpSQLQuery,
				Expression:  comp.SqlCommand,
			})
		}
		if comp.Expression != "" {
			result.Transformations = append(result.Transformations, types.TransformationIR{
				ID:          uuid.NewString(),
				ComponentID: componentID,
				Operation:   types.OpDerive,
				Expression:  comp.Expression,
			})
		}
	}

	for _, p := range pkg.Paths {
		srcRef := componentRef(p.StartID, compIDs)
		dstRef := componentRef(p.EndID, compIDs)
		srcTable := compTables[srcRef]
		dstTable := compTables[dstRef]
		if srcTable == "" && dstTable == "" {
			continue
		}
		// Table names resolve through the macro node map; the catalog
		// resolver falls back to name lookup.
		result.Lineage = append(result.Lineage, types.ColumnLineage{
			SourceAssetRef:     srcTable,
			SourceColumn:       "*",
			TargetAssetRef:     dstTable,
			TargetColumn:       "*",
			TransformationRule: "Data Flow Path",
			Confidence:         1.0,
		})
	}

	// A two-endpoint flow with no explicit path element still implies
	// source-to-sink movement.
	if len(result.Lineage) == 0 {
		var srcTable, dstTable string
		for _, comp := range pkg.Components {
			table := componentTable(comp)
			if table == "" {
				continue
			}
			switch componentRole(comp) {
			case types.ComponentSource:
				srcTable = table
			case types.ComponentSink:
				dstTable = table
			}
		}
		if srcTable != "" && dstTable != "" {
			result.Lineage = append(result.Lineage, types.ColumnLineage{
				SourceAssetRef:     srcTable,
				SourceColumn:       "*",
				TargetAssetRef:     dstTable,
				TargetColumn:       "*",
				TransformationRule: "Data Flow Path",
				Confidence:         1.0,
			})
		}
	}

	return result, nil
}

// componentRef maps a path endpoint ID like
// "Package\DataFlow\Source.Outputs[...]" back to its component refId.
func componentRef(endpointID string, compIDs map[string]string) string {
	if endpointID == "" {
		return ""
	}
	if _, ok := compIDs[endpointID]; ok {
		return endpointID
	}
	if i := strings.IndexAny(endpointID, "."); i > 0 {
		prefix := endpointID[:i]
		if _, ok := compIDs[prefix]; ok {
			return prefix
		}
	}
	// Longest component refId that prefixes the endpoint.
	best := ""
	for ref := range compIDs {
		if strings.HasPrefix(endpointID, ref) && len(ref) > len(best) {
			best = ref
		}
	}
	return best
}
