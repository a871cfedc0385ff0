package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digger/internal/types"
)

const customerLoadDTSX = `<?xml version="1.0"?>
<DTS:Executable xmlns:DTS="www.microsoft.com/SqlServer/Dts" DTS:ObjectName="CustomerLoad">
  <DTS:Executables>
    <DTS:Executable DTS:ObjectName="Data Flow Task">
      <pipeline>
        <components>
          <component refId="Package\DFT\OLE DB Source" name="OLE DB Source" componentClassID="Microsoft.OLEDBSource">
            <properties>
              <property name="OpenRowset">[dbo].[Customers]</property>
            </properties>
          </component>
          <component refId="Package\DFT\OLE DB Destination" name="OLE DB Destination" componentClassID="Microsoft.OLEDBDestination">
            <properties>
              <property name="OpenRowset">[stage].[Customers]</property>
            </properties>
          </component>
        </components>
        <paths>
          <path refId="Package\DFT.Paths[Main]" startId="Package\DFT\OLE DB Source.Outputs[Output]" endId="Package\DFT\OLE DB Destination.Inputs[Input]"/>
        </paths>
      </pipeline>
    </DTS:Executable>
  </DTS:Executables>
</DTS:Executable>`

func TestExtractSSISMacro(t *testing.T) {
	res, err := ExtractSSIS(Input{Path: "etl/CustomerLoad.dtsx", Content: customerLoadDTSX})
	require.NoError(t, err)

	nodes := nodeTypes(res)
	assert.Equal(t, types.NodeTypeProcess, nodes["CustomerLoad"])
	assert.Equal(t, types.NodeTypeTable, nodes["dbo.Customers"])
	assert.Equal(t, types.NodeTypeTable, nodes["stage.Customers"])

	edges := edgeSet(res)
	assert.True(t, edges["CustomerLoad READS_FROM dbo.Customers"])
	assert.True(t, edges["CustomerLoad WRITES_TO stage.Customers"])

	require.NotEmpty(t, res.Evidences)
	assert.Equal(t, types.EvidenceXML, res.Evidences[0].Kind)
	assert.Contains(t, res.Evidences[0].Locator.XPath, "OLE DB Source")
}

func TestDeepDiveSSIS(t *testing.T) {
	dd, err := DeepDiveSSIS(Input{Path: "etl/CustomerLoad.dtsx", Content: customerLoadDTSX, ProjectID: "p1"})
	require.NoError(t, err)

	require.NotNil(t, dd.Package)
	assert.Equal(t, "CustomerLoad", dd.Package.Name)
	assert.Equal(t, "SSIS", dd.Package.PackageType)

	require.Len(t, dd.Components, 2)
	assert.Equal(t, types.ComponentSource, dd.Components[0].Type)
	assert.Equal(t, types.ComponentSink, dd.Components[1].Type)
	assert.Equal(t, 0, dd.Components[0].OrderIndex)
	assert.Equal(t, 1, dd.Components[1].OrderIndex)

	require.Len(t, dd.Lineage, 1)
	cl := dd.Lineage[0]
	assert.Equal(t, "dbo.Customers", cl.SourceAssetRef)
	assert.Equal(t, "stage.Customers", cl.TargetAssetRef)
	assert.Equal(t, "*", cl.SourceColumn)
	assert.Equal(t, "*", cl.TargetColumn)
	assert.Equal(t, "Data Flow Path", cl.TransformationRule)
	assert.Equal(t, 1.0, cl.Confidence)
}

func TestDeepDiveSSISFallbackWithoutPaths(t *testing.T) {
	const noPaths = `<DTS:Executable xmlns:DTS="www.microsoft.com/SqlServer/Dts" DTS:ObjectName="NightlyLoad">
  <component refId="A" name="Raw Source" componentClassID="Microsoft.OLEDBSource">
    <property name="SqlCommand">SELECT id, amount FROM dbo.raw_orders</property>
  </component>
  <component refId="B" name="Target Destination" componentClassID="Microsoft.OLEDBDestination">
    <property name="OpenRowset">[dw].[fact_orders]</property>
  </component>
</DTS:Executable>`

	dd, err := DeepDiveSSIS(Input{Path: "NightlyLoad.dtsx", Content: noPaths})
	require.NoError(t, err)

	require.Len(t, dd.Lineage, 1)
	assert.Equal(t, "dbo.raw_orders", dd.Lineage[0].SourceAssetRef)
	assert.Equal(t, "dw.fact_orders", dd.Lineage[0].TargetAssetRef)

	// The embedded SqlCommand becomes a SQL_QUERY transformation.
	require.NotEmpty(t, dd.Transformations)
	assert.Equal(t, types.OpSQLQuery, dd.Transformations[0].Operation)
}

func TestWalkSSISRejectsNonDTSX(t *testing.T) {
	_, err := ExtractSSIS(Input{Path: "junk.dtsx", Content: "this is not xml at all"})
	require.Error(t, err)
}
