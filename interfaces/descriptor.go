package interfaces

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	errs "github.com/eddielth/msghub-e2e/errors"
	"github.com/eddielth/msghub-e2e/value"
)

// Ownership tells which side publishes on an interface
type Ownership string

const (
	OwnershipDevice Ownership = "device"
	OwnershipServer Ownership = "server"
)

// Type is the interface type
type Type string

const (
	TypeDatastream Type = "datastream"
	TypeProperties Type = "properties"
)

// Aggregation tells whether endpoints travel alone or grouped in an object
type Aggregation string

const (
	AggregationIndividual Aggregation = "individual"
	AggregationObject     Aggregation = "object"
)

// Mapping is one endpoint of a descriptor
type Mapping struct {
	Endpoint    string `json:"endpoint"`
	Type        string `json:"type"`
	Reliability string `json:"reliability,omitempty"`
	AllowUnset  bool   `json:"allow_unset,omitempty"`

	kind     value.Kind
	segments []string
}

// Kind returns the value kind of the mapping
func (m Mapping) Kind() value.Kind { return m.kind }

// QoS maps the mapping reliability to an MQTT quality of service
func (m Mapping) QoS() byte {
	switch m.Reliability {
	case "guaranteed":
		return 1
	case "unique":
		return 2
	default:
		return 0
	}
}

func (m Mapping) matches(segments []string) bool {
	if len(segments) != len(m.segments) {
		return false
	}
	for i, s := range m.segments {
		if strings.HasPrefix(s, "%{") && strings.HasSuffix(s, "}") {
			if segments[i] == "" {
				return false
			}
			continue
		}
		if s != segments[i] {
			return false
		}
	}
	return true
}

// Descriptor is the parsed form of an interface document. The conformance
// sequence never looks inside it; the hub and the simulator do.
type Descriptor struct {
	Name        string      `json:"interface_name"`
	Major       int         `json:"version_major"`
	Minor       int         `json:"version_minor"`
	Type        Type        `json:"type"`
	Ownership   Ownership   `json:"ownership"`
	Aggregation Aggregation `json:"aggregation"`
	Mappings    []Mapping   `json:"mappings"`
}

// ParseDescriptor parses an interface document. Comments and trailing commas
// are accepted.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(jsonc.ToJSON(raw), &d); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, err, "parse interface descriptor")
	}

	if d.Name == "" {
		return nil, errs.New(errs.KindConfiguration, "interface descriptor without interface_name")
	}
	if d.Major == 0 && d.Minor == 0 {
		return nil, errs.New(errs.KindConfiguration, "%s: version 0.0 is not valid", d.Name)
	}
	switch d.Type {
	case TypeDatastream, TypeProperties:
	default:
		return nil, errs.New(errs.KindConfiguration, "%s: unknown type %q", d.Name, d.Type)
	}
	switch d.Ownership {
	case OwnershipDevice, OwnershipServer:
	default:
		return nil, errs.New(errs.KindConfiguration, "%s: unknown ownership %q", d.Name, d.Ownership)
	}
	switch d.Aggregation {
	case "":
		d.Aggregation = AggregationIndividual
	case AggregationIndividual:
	case AggregationObject:
		if d.Type == TypeProperties {
			return nil, errs.New(errs.KindConfiguration, "%s: properties cannot be object aggregated", d.Name)
		}
	default:
		return nil, errs.New(errs.KindConfiguration, "%s: unknown aggregation %q", d.Name, d.Aggregation)
	}
	if len(d.Mappings) == 0 {
		return nil, errs.New(errs.KindConfiguration, "%s: no mappings", d.Name)
	}

	for i := range d.Mappings {
		m := &d.Mappings[i]
		kind, err := value.ParseKind(m.Type)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, err, "%s: mapping %s", d.Name, m.Endpoint)
		}
		if !strings.HasPrefix(m.Endpoint, "/") {
			return nil, errs.New(errs.KindConfiguration, "%s: endpoint %q must start with /", d.Name, m.Endpoint)
		}
		m.kind = kind
		m.segments = splitPath(m.Endpoint)
	}

	return &d, nil
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// Mapping resolves path, e.g. /sensor_1/double_endpoint, to its mapping
func (d *Descriptor) Mapping(path string) (Mapping, bool) {
	segments := splitPath(path)
	for _, m := range d.Mappings {
		if m.matches(segments) {
			return m, true
		}
	}
	return Mapping{}, false
}

// KindOf returns the value kind expected at path
func (d *Descriptor) KindOf(path string) (value.Kind, error) {
	m, ok := d.Mapping(path)
	if !ok {
		return value.KindUnset, errs.New(errs.KindSchema, "%s: no mapping for path %s", d.Name, path)
	}
	return m.kind, nil
}

// IsProperty reports whether the descriptor is a properties interface
func (d *Descriptor) IsProperty() bool { return d.Type == TypeProperties }

// IsObject reports whether endpoints are aggregated in objects
func (d *Descriptor) IsObject() bool { return d.Aggregation == AggregationObject }

// Introspection renders the name:major:minor introspection entry
func (d *Descriptor) Introspection() string {
	return fmt.Sprintf("%s:%d:%d", d.Name, d.Major, d.Minor)
}
