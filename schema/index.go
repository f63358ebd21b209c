package schema

import (
	"fmt"
	"strings"
	"time"
)

// RolloverFrequency is how often a rollover index starts a new concrete
// backing index.
type RolloverFrequency string

const (
	RolloverHourly  RolloverFrequency = "hourly"
	RolloverDaily   RolloverFrequency = "daily"
	RolloverMonthly RolloverFrequency = "monthly"
	RolloverYearly  RolloverFrequency = "yearly"
)

const rolloverInfix = "_rollover__"

// suffixLayout returns the time layout used for the concrete index suffix.
func (f RolloverFrequency) suffixLayout() string {
	switch f {
	case RolloverHourly:
		return "2006-01-02-15"
	case RolloverDaily:
		return "2006-01-02"
	case RolloverMonthly:
		return "2006-01"
	case RolloverYearly:
		return "2006"
	}
	return ""
}

// Truncate returns the start of the rollover period containing t.
func (f RolloverFrequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch f {
	case RolloverHourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case RolloverDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case RolloverMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case RolloverYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the start of the rollover period after period-start t.
func (f RolloverFrequency) Next(t time.Time) time.Time {
	switch f {
	case RolloverHourly:
		return t.Add(time.Hour)
	case RolloverDaily:
		return t.AddDate(0, 0, 1)
	case RolloverMonthly:
		return t.AddDate(0, 1, 0)
	case RolloverYearly:
		return t.AddDate(1, 0, 0)
	}
	return t
}

// RolloverPolicy configures periodic index rollover on a timestamp field.
type RolloverPolicy struct {
	Frequency      RolloverFrequency
	TimestampField string
}

// IndexDefinition describes one datastore index an indexed type lives in.
type IndexDefinition struct {
	Name     string
	Rollover *RolloverPolicy

	// RoutingField is the dotted index path of the custom shard-routing
	// field. Empty means default (id) routing.
	RoutingField string

	// IgnoredRoutingValues lists routing values so hot they are excluded
	// from custom routing; documents carrying one route by id instead.
	IgnoredRoutingValues []string

	// QueryCluster names the cluster searched at query time.
	QueryCluster string
	// IndexClusters names every cluster written at indexing time.
	IndexClusters []string
}

// HasCustomRouting reports whether documents are routed by a field other
// than id.
func (d *IndexDefinition) HasCustomRouting() bool { return d.RoutingField != "" }

// RoutingValueIgnored reports whether v is in the ignored-routing set.
func (d *IndexDefinition) RoutingValueIgnored(v string) bool {
	for _, ignored := range d.IgnoredRoutingValues {
		if ignored == v {
			return true
		}
	}
	return false
}

// ConcreteIndexFor resolves the physical index receiving a document whose
// rollover timestamp is t. Non-rollover indices resolve to themselves.
func (d *IndexDefinition) ConcreteIndexFor(t time.Time) string {
	if d.Rollover == nil {
		return d.Name
	}
	return d.Name + rolloverInfix + t.UTC().Format(d.Rollover.Frequency.suffixLayout())
}

// WildcardExpression matches every concrete index behind this definition.
func (d *IndexDefinition) WildcardExpression() string {
	if d.Rollover == nil {
		return d.Name
	}
	return d.Name + rolloverInfix + "*"
}

// ConcreteIndicesBetween enumerates concrete index names whose rollover
// periods intersect [from, until]. Only meaningful on rollover indices.
func (d *IndexDefinition) ConcreteIndicesBetween(from, until time.Time) []string {
	if d.Rollover == nil {
		return []string{d.Name}
	}
	freq := d.Rollover.Frequency
	var names []string
	for period := freq.Truncate(from); !period.After(until); period = freq.Next(period) {
		names = append(names, d.ConcreteIndexFor(period))
	}
	return names
}

// ParseConcreteIndexName splits a concrete index name back into its base
// index name and rollover period start.
func ParseConcreteIndexName(name string, freq RolloverFrequency) (base string, period time.Time, err error) {
	idx := strings.LastIndex(name, rolloverInfix)
	if idx < 0 {
		return "", time.Time{}, fmt.Errorf("index name %q has no rollover suffix", name)
	}
	base = name[:idx]
	suffix := name[idx+len(rolloverInfix):]
	period, err = time.Parse(freq.suffixLayout(), suffix)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("index name %q has malformed rollover suffix: %w", name, err)
	}
	return base, period, nil
}
