package interfaces

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/value"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"org.astarte-platform.go.e2etest.DeviceAggregate",
		"org.astarte-platform.go.e2etest.DeviceDatastream",
		"org.astarte-platform.go.e2etest.DeviceProperty",
		"org.astarte-platform.go.e2etest.ServerAggregate",
		"org.astarte-platform.go.e2etest.ServerDatastream",
		"org.astarte-platform.go.e2etest.ServerProperty",
	}, c.Names())
	assert.Len(t, c.Primary(), 6)

	agg := c.MustGet(DeviceAggregate)
	assert.Equal(t, AggregatePath, agg.Path)
	assert.Equal(t, OwnershipDevice, agg.Ownership())
	assert.True(t, agg.Descriptor.IsObject())
	assert.NotEmpty(t, agg.Schema)

	prop := c.MustGet(ServerProperty)
	assert.Empty(t, prop.Path)
	assert.Equal(t, OwnershipServer, prop.Ownership())
	assert.True(t, prop.Descriptor.IsProperty())

	_, ok := c.Get(AdditionalServerDatastream)
	assert.True(t, ok)
	_, ok = c.Get(AdditionalDeviceDatastream)
	assert.True(t, ok)
	_, ok = c.Get("org.example.Missing")
	assert.False(t, ok)
}

func TestCatalogIsNotShared(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	primary := c.Primary()
	primary[0] = Interface{Name: "mutated"}
	assert.Equal(t, DeviceAggregate, c.Primary()[0].Name)
}

func TestDescriptorKindOf(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	agg := c.MustGet(ServerAggregate).Descriptor
	kind, err := agg.KindOf("/sensor_1/longinteger_endpoint")
	require.NoError(t, err)
	assert.Equal(t, value.KindLongInteger, kind)

	_, err = agg.KindOf("/longinteger_endpoint")
	assert.True(t, errs.IsKind(err, errs.KindSchema))

	ds := c.MustGet(DeviceDatastream).Descriptor
	kind, err = ds.KindOf("/datetimearray_endpoint")
	require.NoError(t, err)
	assert.Equal(t, value.KindDateTimeArray, kind)

	m, ok := ds.Mapping("/integer_endpoint")
	require.True(t, ok)
	assert.Equal(t, byte(2), m.QoS())
	assert.Equal(t, value.KindInteger, m.Kind())
}

func TestParseDescriptorAcceptsComments(t *testing.T) {
	raw := []byte(`{
		// comment from an editor
		"interface_name": "org.example.Sensor",
		"version_major": 1,
		"version_minor": 2,
		"type": "properties",
		"ownership": "server",
		"mappings": [
			{"endpoint": "/%{id}/enabled", "type": "boolean", "allow_unset": true},
		],
	}`)

	d, err := ParseDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, AggregationIndividual, d.Aggregation)
	assert.Equal(t, "org.example.Sensor:1:2", d.Introspection())
	assert.True(t, d.Mappings[0].AllowUnset)

	kind, err := d.KindOf("/lamp/enabled")
	require.NoError(t, err)
	assert.Equal(t, value.KindBoolean, kind)

	_, err = d.KindOf("//enabled")
	assert.Error(t, err)
}

func TestParseDescriptorRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no name":        `{"version_major":1,"type":"datastream","ownership":"device","mappings":[{"endpoint":"/a","type":"double"}]}`,
		"bad version":    `{"interface_name":"a.B","type":"datastream","ownership":"device","mappings":[{"endpoint":"/a","type":"double"}]}`,
		"bad ownership":  `{"interface_name":"a.B","version_major":1,"type":"datastream","ownership":"both","mappings":[{"endpoint":"/a","type":"double"}]}`,
		"bad type":       `{"interface_name":"a.B","version_major":1,"type":"stream","ownership":"device","mappings":[{"endpoint":"/a","type":"double"}]}`,
		"object props":   `{"interface_name":"a.B","version_major":1,"type":"properties","ownership":"device","aggregation":"object","mappings":[{"endpoint":"/a","type":"double"}]}`,
		"no mappings":    `{"interface_name":"a.B","version_major":1,"type":"datastream","ownership":"device"}`,
		"bad mapping":    `{"interface_name":"a.B","version_major":1,"type":"datastream","ownership":"device","mappings":[{"endpoint":"/a","type":"float"}]}`,
		"relative path":  `{"interface_name":"a.B","version_major":1,"type":"datastream","ownership":"device","mappings":[{"endpoint":"a","type":"double"}]}`,
		"not json":       `interface`,
	}
	for name, raw := range cases {
		_, err := ParseDescriptor([]byte(raw))
		assert.True(t, errs.IsKind(err, errs.KindConfiguration), name)
	}
}

func TestLoadOverridesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	override := `{
		"interface_name": "org.astarte-platform.go.e2etest.DeviceDatastream",
		"version_major": 1,
		"version_minor": 0,
		"type": "datastream",
		"ownership": "device",
		"mappings": [{"endpoint": "/double_endpoint", "type": "double"}]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeviceDatastream+".json"), []byte(override), 0o644))

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, c.MustGet(DeviceDatastream).Descriptor.Major)
	assert.Equal(t, 0, c.MustGet(DeviceProperty).Descriptor.Major)
}

func TestLoadRejectsMismatchedName(t *testing.T) {
	dir := t.TempDir()
	raw, err := schemas.ReadFile("schemas/" + DeviceProperty + ".json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeviceDatastream+".json"), raw, 0o644))

	_, err = Load(dir)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}
