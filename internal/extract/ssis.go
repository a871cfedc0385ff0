package extract

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"digger/internal/types"
)

// sqlCommandTableRe pulls table references out of an embedded SqlCommand
// when no OpenRowset property is present.
var sqlCommandTableRe = regexp.MustCompile(`(?i)\b(?:FROM|INTO|JOIN|UPDATE)\s+(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})`)

// ssisComponent is one pipeline component pulled from the DTSX XML.
type ssisComponent struct {
	RefID      string
	Name       string
	ClassID    string
	OpenRowset string
	SqlCommand string
	Expression string
}

// ssisPath is one data-flow path between two component endpoints.
type ssisPath struct {
	StartID string
	EndID   string
}

// ssisPackage is the structural walk of a DTSX file.
type ssisPackage struct {
	Name       string
	Components []ssisComponent
	Paths      []ssisPath
}

// walkSSIS decodes the DTSX XML into its package name, pipeline components
// with their table-bearing properties, and data-flow paths.
func walkSSIS(path, content string) (*ssisPackage, error) {
	pkg := &ssisPackage{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}

	decoder := xml.NewDecoder(strings.NewReader(content))
	decoder.Strict = false

	var current *ssisComponent
	var propertyName string
	var propertyDepth int
	depth := 0

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			local := t.Name.Local
			switch local {
			case "Executable":
				// The root executable carries the package object name.
				if depth <= 2 {
					for _, attr := range t.Attr {
						if attr.Name.Local == "ObjectName" && attr.Value != "" {
							pkg.Name = attr.Value
						}
					}
				}
			case "component":
				comp := ssisComponent{}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "refId":
						comp.RefID = attr.Value
					case "name":
						comp.Name = attr.Value
					case "componentClassID":
						comp.ClassID = attr.Value
					}
				}
				pkg.Components = append(pkg.Components, comp)
				current = &pkg.Components[len(pkg.Components)-1]
			case "property":
				for _, attr := range t.Attr {
					if attr.Name.Local == "name" {
						propertyName = attr.Value
						propertyDepth = depth
					}
				}
			case "path":
				p := ssisPath{}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "startId":
						p.StartID = attr.Value
					case "endId":
						p.EndID = attr.Value
					}
				}
				pkg.Paths = append(pkg.Paths, p)
			}
		case xml.EndElement:
			if t.Name.Local == "component" {
				current = nil
			}
			if t.Name.Local == "property" && depth == propertyDepth {
				propertyName = ""
			}
			depth--
		case xml.CharData:
			if current == nil || propertyName == "" {
				continue
			}
			value := strings.TrimSpace(string(t))
			if value == "" {
				continue
			}
			switch propertyName {
			case "OpenRowset":
				current.OpenRowset += value
			case "SqlCommand", "SqlCommandVariable":
				current.SqlCommand += value
			case "Expression":
				current.Expression += value
			}
		}
	}

	if len(pkg.Components) == 0 && !strings.Contains(content, "Executable") {
		return nil, fmt.Errorf("not a recognizable DTSX document")
	}
	return pkg, nil
}

func componentRole(c ssisComponent) string {
	probe := c.ClassID + " " + c.Name
	switch {
	case strings.Contains(probe, "Source"):
		return types.ComponentSource
	case strings.Contains(probe, "Destination"):
		return types.ComponentSink
	default:
		return types.ComponentTransform
	}
}

// componentTable returns the table a component touches, preferring
// OpenRowset and falling back to a regex over SqlCommand.
func componentTable(c ssisComponent) string {
	if c.OpenRowset != "" {
		return cleanIdentifier(c.OpenRowset)
	}
	if c.SqlCommand != "" {
		if m := sqlCommandTableRe.FindStringSubmatch(c.SqlCommand); m != nil {
			return cleanIdentifier(m[1])
		}
	}
	return ""
}

// ExtractSSIS is the macro pass over a DTSX package: one PROCESS node for
// the package, TABLE nodes for OpenRowset/SqlCommand references, and
// read/write edges by component role.
func ExtractSSIS(in Input) (*types.ExtractionResult, error) {
	pkg, err := walkSSIS(in.Path, in.Content)
	if err != nil {
		return nil, err
	}

	res := &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "ssis_xml", SourceFile: in.Path},
	}
	res.Nodes = append(res.Nodes, types.ExtractedNode{
		NodeID:   pkg.Name,
		NodeType: types.NodeTypeProcess,
		Name:     pkg.Name,
		System:   "ssis",
		Attributes: map[string]any{
			"path": in.Path,
		},
	})

	seen := map[string]bool{}
	for _, comp := range pkg.Components {
		table := componentTable(comp)
		if table == "" {
			continue
		}
		if !seen[table] {
			seen[table] = true
			res.Nodes = append(res.Nodes, types.ExtractedNode{
				NodeID:   table,
				NodeType: types.NodeTypeTable,
				Name:     table,
				System:   "sql",
			})
		}

		evidenceRef := len(res.Evidences)
		res.Evidences = append(res.Evidences, types.Evidence{
			FilePath: in.Path,
			Kind:     types.EvidenceXML,
			Locator:  types.Locator{File: in.Path, XPath: "//component[@name='" + comp.Name + "']"},
			Snippet:  snippet(comp.OpenRowset+" "+comp.SqlCommand, 240),
		})

		edgeType := types.EdgeReadsFrom
		if componentRole(comp) == types.ComponentSink {
			edgeType = types.EdgeWritesTo
		}
		res.Edges = append(res.Edges, types.ExtractedEdge{
			FromNodeID:   pkg.Name,
			ToNodeID:     table,
			EdgeType:     edgeType,
			Confidence:   0.85,
			EvidenceRefs: []int{evidenceRef},
		})
	}

	return res, nil
}
