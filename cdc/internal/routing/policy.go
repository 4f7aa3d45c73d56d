// Package routing assigns new Leads to an owner from a versioned policy of
// employee-count segments, country regions and a segment/region owner table.
package routing

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultQueueID is the owner used when the policy names no default queue.
const DefaultQueueID = "00Gxx0000000001AAA"

const (
	DefaultSegment = "SMB"
	DefaultRegion  = "NA"
)

var versionPattern = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

// Range is an inclusive employee-count range. A nil Max is unbounded.
type Range struct {
	Min int
	Max *int
}

// UnmarshalYAML decodes the two-element [min, max] form.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	var pair []*int
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 || pair[0] == nil {
		return fmt.Errorf("line %d: employee_range must be [min, max|null]", node.Line)
	}
	r.Min, r.Max = *pair[0], pair[1]
	return nil
}

// MarshalYAML writes the [min, max] form.
func (r Range) MarshalYAML() (any, error) {
	return []*int{&r.Min, r.Max}, nil
}

// Contains reports whether n falls in the range.
func (r Range) Contains(n int) bool {
	return n >= r.Min && (r.Max == nil || n <= *r.Max)
}

// Segment is one employee-count band.
type Segment struct {
	EmployeeRange Range  `yaml:"employee_range"`
	Priority      string `yaml:"priority,omitempty"`
	SLAHours      *int   `yaml:"sla_hours,omitempty"`
}

// Policy is an immutable, validated routing policy.
type Policy struct {
	Version  string              `yaml:"version"`
	Segments map[string]Segment  `yaml:"segments"`
	Regions  map[string][]string `yaml:"regions"`
	Owners   map[string]string   `yaml:"owners"`
	Queues   map[string]string   `yaml:"queues"`

	segmentOrder []string
	regionOrder  []string
}

// LoadPolicy reads and validates the policy at path. YAML and JSON are both
// accepted.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.index()
	return &p, nil
}

// Validate checks the version format, that at least one segment exists and
// that every range is well formed.
func (p *Policy) Validate() error {
	var errs []error
	if !versionPattern.MatchString(p.Version) {
		errs = append(errs, fmt.Errorf("version %q must look like v1.2.3", p.Version))
	}
	if len(p.Segments) == 0 {
		errs = append(errs, errors.New("at least one segment is required"))
	}
	for name, seg := range p.Segments {
		r := seg.EmployeeRange
		if r.Min < 0 {
			errs = append(errs, fmt.Errorf("segment %s: min must not be negative", name))
		}
		if r.Max != nil && *r.Max < r.Min {
			errs = append(errs, fmt.Errorf("segment %s: min %d exceeds max %d", name, r.Min, *r.Max))
		}
	}
	for key, id := range p.Owners {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, fmt.Errorf("owner %s: empty id", key))
		}
	}
	return errors.Join(errs...)
}

func (p *Policy) index() {
	p.segmentOrder = make([]string, 0, len(p.Segments))
	for name := range p.Segments {
		p.segmentOrder = append(p.segmentOrder, name)
	}
	sort.Slice(p.segmentOrder, func(i, j int) bool {
		a, b := p.Segments[p.segmentOrder[i]], p.Segments[p.segmentOrder[j]]
		if a.EmployeeRange.Min != b.EmployeeRange.Min {
			return a.EmployeeRange.Min < b.EmployeeRange.Min
		}
		return p.segmentOrder[i] < p.segmentOrder[j]
	})

	p.regionOrder = make([]string, 0, len(p.Regions))
	for name, countries := range p.Regions {
		p.regionOrder = append(p.regionOrder, name)
		for i, c := range countries {
			countries[i] = strings.ToUpper(strings.TrimSpace(c))
		}
	}
	sort.Strings(p.regionOrder)
}

// Segment returns the first segment, by ascending lower bound, whose range
// contains employees. Unknown or unmatched counts fall back to SMB.
func (p *Policy) Segment(employees *int) string {
	if employees == nil {
		return DefaultSegment
	}
	for _, name := range p.segmentOrder {
		if p.Segments[name].EmployeeRange.Contains(*employees) {
			return name
		}
	}
	return DefaultSegment
}

// Region returns the first region, by name, listing country.
func (p *Policy) Region(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	if c == "" {
		return DefaultRegion
	}
	for _, name := range p.regionOrder {
		for _, member := range p.Regions[name] {
			if member == c {
				return name
			}
		}
	}
	return DefaultRegion
}

// Owner returns the owner for segment and region, falling back to the
// default queue.
func (p *Policy) Owner(segment, region string) string {
	if id, ok := p.Owners[segment+"_"+region]; ok {
		return id
	}
	if id, ok := p.Queues["default"]; ok && id != "" {
		return id
	}
	return DefaultQueueID
}

// IsQueue reports whether id is a Salesforce queue.
func IsQueue(id string) bool {
	return strings.HasPrefix(id, "00G")
}
