package interfaces

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	errs "github.com/eddielth/msghub-e2e/errors"
)

// Prefix is shared by every test interface name
const Prefix = "org.astarte-platform.go.e2etest."

const (
	DeviceAggregate  = Prefix + "DeviceAggregate"
	DeviceDatastream = Prefix + "DeviceDatastream"
	DeviceProperty   = Prefix + "DeviceProperty"
	ServerAggregate  = Prefix + "ServerAggregate"
	ServerDatastream = Prefix + "ServerDatastream"
	ServerProperty   = Prefix + "ServerProperty"

	AdditionalDeviceDatastream = Prefix + "AdditionalDeviceDatastream"
	AdditionalServerDatastream = Prefix + "AdditionalServerDatastream"
)

// AggregatePath is the fixed object path of both aggregate interfaces
const AggregatePath = "/sensor_1"

//go:embed schemas/*.json schemas/additional/*.json
var schemas embed.FS

var (
	primaryNames = []string{
		DeviceAggregate, DeviceDatastream, DeviceProperty,
		ServerAggregate, ServerDatastream, ServerProperty,
	}
	additionalNames = []string{AdditionalDeviceDatastream, AdditionalServerDatastream}

	objectPaths = map[string]string{
		DeviceAggregate: AggregatePath,
		ServerAggregate: AggregatePath,
	}
)

// Interface is the identity of one test interface. Values are built once at
// startup and never mutated.
type Interface struct {
	Name       string
	Path       string
	Schema     []byte
	Descriptor *Descriptor
}

// Ownership returns which side publishes on the interface
func (i Interface) Ownership() Ownership { return i.Descriptor.Ownership }

// Catalog holds the interface identities of a run
type Catalog struct {
	primary []Interface
	byName  map[string]Interface
}

// Default builds the catalog from the embedded descriptors
func Default() (*Catalog, error) {
	return Load("")
}

// Load builds the catalog, preferring descriptors found in dir. A file in dir
// named <interface>.json (or additional/<interface>.json) replaces the
// embedded document.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]Interface)}

	for _, name := range primaryNames {
		iface, err := load(dir, name+".json", name)
		if err != nil {
			return nil, err
		}
		c.primary = append(c.primary, iface)
		c.byName[name] = iface
	}
	for _, name := range additionalNames {
		iface, err := load(dir, path.Join("additional", name+".json"), name)
		if err != nil {
			return nil, err
		}
		c.byName[name] = iface
	}

	return c, nil
}

func load(dir, file, name string) (Interface, error) {
	schema, err := readSchema(dir, file)
	if err != nil {
		return Interface{}, errs.Wrap(errs.KindConfiguration, err, "load interface %s", name)
	}

	d, err := ParseDescriptor(schema)
	if err != nil {
		return Interface{}, err
	}
	if d.Name != name {
		return Interface{}, errs.New(errs.KindConfiguration, "%s declares interface %s", file, d.Name)
	}

	return Interface{
		Name:       name,
		Path:       objectPaths[name],
		Schema:     schema,
		Descriptor: d,
	}, nil
}

func readSchema(dir, file string) ([]byte, error) {
	if dir != "" {
		schema, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(file)))
		if err == nil {
			return schema, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return schemas.ReadFile(path.Join("schemas", file))
}

// Primary returns the six interfaces attached by the device under test
func (c *Catalog) Primary() []Interface {
	return slices.Clone(c.primary)
}

// Names returns the sorted names of the primary interfaces
func (c *Catalog) Names() []string {
	names := make([]string, len(c.primary))
	for i, iface := range c.primary {
		names[i] = iface.Name
	}
	slices.Sort(names)
	return names
}

// Get looks up an interface by name
func (c *Catalog) Get(name string) (Interface, bool) {
	iface, ok := c.byName[name]
	return iface, ok
}

// MustGet looks up an interface known to be part of the catalog
func (c *Catalog) MustGet(name string) Interface {
	iface, ok := c.byName[name]
	if !ok {
		panic("interfaces: unknown interface " + name)
	}
	return iface
}
