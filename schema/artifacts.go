package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Artifact YAML shapes. The artifacts bundle is produced by the schema
// definition tooling and treated as frozen input here.

type artifactsDoc struct {
	Types       []artifactType                   `yaml:"types"`
	Indices     []artifactIndex                  `yaml:"indices"`
	Derived     []artifactDerived                `yaml:"derived"`
	ScriptIDs   map[string]string                `yaml:"script_ids"`
	JSONSchemas map[string]map[int]map[string]any `yaml:"json_schemas"`
}

type artifactType struct {
	Name        string              `yaml:"name"`
	Category    string              `yaml:"category"`
	Subtypes    []string            `yaml:"subtypes"`
	DefaultSort []artifactSortField `yaml:"default_sort"`
	Fields      []artifactField     `yaml:"fields"`
}

type artifactSortField struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction"`
}

type artifactField struct {
	Name        string            `yaml:"name"`
	NameInIndex string            `yaml:"name_in_index"`
	Type        string            `yaml:"type"`
	List        bool              `yaml:"list"`
	Nested      bool              `yaml:"nested"`
	Source      string            `yaml:"source"`
	Function    string            `yaml:"function"`
	Relation    *artifactRelation `yaml:"relation"`
}

type artifactRelation struct {
	ForeignKey string `yaml:"foreign_key"`
	Location   string `yaml:"location"`
}

type artifactIndex struct {
	Name                 string            `yaml:"name"`
	Type                 string            `yaml:"type"`
	Rollover             *artifactRollover `yaml:"rollover"`
	RoutingField         string            `yaml:"routing_field"`
	IgnoredRoutingValues []string          `yaml:"ignored_routing_values"`
	QueryCluster         string            `yaml:"query_cluster"`
	IndexClusters        []string          `yaml:"index_clusters"`
}

type artifactRollover struct {
	Frequency      string `yaml:"frequency"`
	TimestampField string `yaml:"timestamp_field"`
}

type artifactDerived struct {
	SourceType                   string `yaml:"source_type"`
	TargetType                   string `yaml:"target_type"`
	IDSource                     string `yaml:"id_source"`
	RoutingValueSource           string `yaml:"routing_value_source"`
	RolloverTimestampValueSource string `yaml:"rollover_timestamp_value_source"`
	ScriptID                     string `yaml:"script_id"`
}

// LoadFile reads and builds a Registry from a YAML artifacts file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema artifacts: %w", err)
	}
	return Load(data)
}

// Load builds a Registry from YAML artifact bytes.
func Load(data []byte) (*Registry, error) {
	var doc artifactsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema artifacts: %w", err)
	}
	return build(&doc)
}

func build(doc *artifactsDoc) (*Registry, error) {
	r := &Registry{
		types:           make(map[TypeRef]*Type),
		indicesByType:   make(map[TypeRef][]*IndexDefinition),
		indexByName:     make(map[string]*IndexDefinition),
		typeByIndex:     make(map[string]TypeRef),
		derivedBySource: make(map[TypeRef][]*DerivedTypeDefinition),
		scriptIDs:       doc.ScriptIDs,
		jsonSchemas:     make(map[TypeRef]map[int]map[string]any),
	}
	if r.scriptIDs == nil {
		r.scriptIDs = make(map[string]string)
	}

	for _, at := range doc.Types {
		t, err := buildType(at)
		if err != nil {
			return nil, err
		}
		if _, dup := r.types[t.Name]; dup {
			return nil, &ConfigError{Message: fmt.Sprintf("duplicate type %s", t.Name)}
		}
		r.types[t.Name] = t
		r.typeOrder = append(r.typeOrder, t.Name)
	}

	for _, ai := range doc.Indices {
		def, typeName, err := buildIndex(ai)
		if err != nil {
			return nil, err
		}
		if _, ok := r.types[typeName]; !ok {
			return nil, &ConfigError{Message: fmt.Sprintf("index %s references unknown type %s", def.Name, typeName)}
		}
		if _, dup := r.indexByName[def.Name]; dup {
			return nil, &ConfigError{Message: fmt.Sprintf("duplicate index %s", def.Name)}
		}
		r.indexByName[def.Name] = def
		r.typeByIndex[def.Name] = typeName
		r.indicesByType[typeName] = append(r.indicesByType[typeName], def)
	}

	for name, t := range r.types {
		if t.Category == CategoryIndexedDocument && len(r.indicesByType[name]) == 0 {
			return nil, &ConfigError{Message: fmt.Sprintf("indexed type %s has no index definition", name)}
		}
	}

	for _, ad := range doc.Derived {
		d := &DerivedTypeDefinition{
			SourceType:                   TypeRef(ad.SourceType),
			TargetType:                   TypeRef(ad.TargetType),
			IDSource:                     ad.IDSource,
			RoutingValueSource:           ad.RoutingValueSource,
			RolloverTimestampValueSource: ad.RolloverTimestampValueSource,
			ScriptID:                     ad.ScriptID,
		}
		if d.IDSource == "" {
			return nil, &ConfigError{Message: fmt.Sprintf("derived type %s has no id_source", d.TargetType)}
		}
		if !r.IndexedType(d.TargetType) {
			return nil, &ConfigError{Message: fmt.Sprintf("derived type %s has no index definition", d.TargetType)}
		}
		r.derivedBySource[d.SourceType] = append(r.derivedBySource[d.SourceType], d)
	}

	for typeName, versions := range doc.JSONSchemas {
		r.jsonSchemas[TypeRef(typeName)] = versions
	}

	return r, nil
}

func buildType(at artifactType) (*Type, error) {
	category := Category(at.Category)
	switch category {
	case CategoryObject, CategoryIndexedDocument, CategoryIndexedAggregation,
		CategoryScalar, CategoryEnum, CategoryUnion, CategoryInterface:
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("type %s has unknown category %q", at.Name, at.Category)}
	}

	t := &Type{Name: TypeRef(at.Name), Category: category}
	for _, st := range at.Subtypes {
		t.Subtypes = append(t.Subtypes, TypeRef(st))
	}
	for _, as := range at.DefaultSort {
		t.DefaultSortFields = append(t.DefaultSortFields, SortField{
			FieldInIndex: as.Field,
			Descending:   as.Direction == "desc",
		})
	}

	for _, af := range at.Fields {
		nameInIndex := af.NameInIndex
		if nameInIndex == "" {
			nameInIndex = af.Name
		}
		field := &Field{
			NameInGraphQL: af.Name,
			NameInIndex:   nameInIndex,
			Type:          TypeRef(af.Type),
			List:          af.List,
			Nested:        af.Nested,
			Source:        af.Source,
			Function:      af.Function,
		}
		if af.Relation != nil {
			loc := RelationLocation(af.Relation.Location)
			switch loc {
			case RelationForeignKeyOnParent, RelationForeignKeyOnChild, RelationSelfReferential:
			default:
				return nil, &ConfigError{Message: fmt.Sprintf(
					"field %s.%s has unknown relation location %q", at.Name, af.Name, af.Relation.Location)}
			}
			field.Relation = &Relation{ForeignKey: af.Relation.ForeignKey, Location: loc}
		}
		if err := t.addField(field); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func buildIndex(ai artifactIndex) (*IndexDefinition, TypeRef, error) {
	def := &IndexDefinition{
		Name:                 ai.Name,
		RoutingField:         ai.RoutingField,
		IgnoredRoutingValues: ai.IgnoredRoutingValues,
		QueryCluster:         ai.QueryCluster,
		IndexClusters:        ai.IndexClusters,
	}
	if def.Name == "" {
		return nil, "", &ConfigError{Message: "index definition with empty name"}
	}
	if def.QueryCluster == "" {
		def.QueryCluster = "main"
	}
	if len(def.IndexClusters) == 0 {
		def.IndexClusters = []string{def.QueryCluster}
	}
	if ai.Rollover != nil {
		freq := RolloverFrequency(ai.Rollover.Frequency)
		switch freq {
		case RolloverHourly, RolloverDaily, RolloverMonthly, RolloverYearly:
		default:
			return nil, "", &ConfigError{Message: fmt.Sprintf(
				"index %s has unknown rollover frequency %q", ai.Name, ai.Rollover.Frequency)}
		}
		if ai.Rollover.TimestampField == "" {
			return nil, "", &ConfigError{Message: fmt.Sprintf("index %s rollover has no timestamp_field", ai.Name)}
		}
		def.Rollover = &RolloverPolicy{Frequency: freq, TimestampField: ai.Rollover.TimestampField}
	}
	return def, TypeRef(ai.Type), nil
}
