package driver

import (
	"fmt"
	"regexp"
	"strings"
)

// Field is the canonical, engine-agnostic column descriptor. Every
// adapter emits exactly this shape regardless of how its engine reports
// column metadata.
type Field struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	FullType      string          `json:"fullType"`
	Length        string          `json:"length"`
	Nullable      bool            `json:"nullable"`
	Default       *string         `json:"default"`
	AutoIncrement bool            `json:"autoIncrement"`
	Collation     string          `json:"collation,omitempty"`
	Unsigned      bool            `json:"unsigned"`
	Comment       string          `json:"comment"`
	Primary       bool            `json:"primary"`
	Generated     bool            `json:"generated"`
	Privileges    map[string]bool `json:"privileges"`
}

// Table is one entry in a table listing.
type Table struct {
	Name string `json:"name"`
	Type string `json:"type"` // "table" or "view"
}

// Index is the normalized index descriptor.
type Index struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // PRIMARY, UNIQUE, FULLTEXT or INDEX
	Columns []string `json:"columns"`
	Lengths []string `json:"lengths"`
	Descs   []bool   `json:"descs"`
}

// ForeignKey is the normalized foreign key descriptor.
type ForeignKey struct {
	Name          string   `json:"name"`
	SourceColumns []string `json:"sourceColumns"`
	TargetDB      string   `json:"targetDb"`
	TargetTable   string   `json:"targetTable"`
	TargetColumns []string `json:"targetColumns"`
	OnDelete      string   `json:"onDelete"`
	OnUpdate      string   `json:"onUpdate"`
}

type Trigger struct {
	Name      string `json:"name"`
	Event     string `json:"event,omitempty"`
	Timing    string `json:"timing,omitempty"`
	Statement string `json:"statement,omitempty"`
}

type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FieldDef describes one column for CREATE TABLE / ALTER TABLE.
type FieldDef struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	FullType      string  `json:"fullType"`
	Nullable      bool    `json:"nullable"`
	Default       *string `json:"default"`
	AutoIncrement bool    `json:"autoIncrement"`
	Unsigned      bool    `json:"unsigned"`
	Comment       string  `json:"comment"`
	Primary       bool    `json:"primary"`
}

// IndexDef describes one index for CREATE TABLE / ALTER TABLE.
type IndexDef struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Columns []string `json:"columns"`
	Lengths []string `json:"lengths"`
}

// Metadata is the driver's static UI configuration: type groups, filter
// operators and edit functions the client offers for this engine.
type Metadata struct {
	Jush          string              `json:"jush"`
	Types         map[string][]string `json:"types"`
	Operators     []string            `json:"operators"`
	Functions     []string            `json:"functions"`
	Grouping      []string            `json:"grouping"`
	EditFunctions [][]string          `json:"editFunctions"`
}

var (
	lengthRe    = regexp.MustCompile(`\(([^)]+)\)`)
	autoIncrRe  = regexp.MustCompile(`(?i)auto_increment`)
	unsignedRe  = regexp.MustCompile(`(?i)unsigned`)
	generatedRe = regexp.MustCompile(`(?i)GENERATED|VIRTUAL|STORED`)
)

// NormalizeField maps an engine-native column-metadata row, in whatever
// shape the engine reports it, onto the canonical Field descriptor. The
// synonym handling mirrors what each engine emits: MySQL's SHOW FULL
// COLUMNS capitalized keys, information_schema snake_case keys, or an
// adapter's already-canonical keys.
func NormalizeField(raw map[string]any) Field {
	fullType := firstString(raw, "fullType", "Type")
	f := Field{
		Name:          firstString(raw, "name", "Field", "column_name"),
		Type:          strings.TrimSpace(strings.SplitN(strings.ToLower(firstString(raw, "type", "Type")), "(", 2)[0]),
		FullType:      fullType,
		Length:        firstString(raw, "length"),
		Comment:       firstString(raw, "comment", "Comment"),
		Collation:     firstString(raw, "collation", "Collation"),
		Unsigned:      boolOr(raw, "unsigned", unsignedRe.MatchString(firstString(raw, "Type"))),
		Nullable:      boolOr(raw, "nullable", firstString(raw, "Null") == "YES"),
		AutoIncrement: boolOr(raw, "autoIncrement", autoIncrRe.MatchString(firstString(raw, "Extra"))),
		Primary:       boolOr(raw, "primary", firstString(raw, "Key") == "PRI"),
		Generated:     boolOr(raw, "generated", generatedRe.MatchString(firstString(raw, "Extra"))),
	}
	if f.Length == "" {
		f.Length = ExtractLength(fullType)
	}
	if v, ok := raw["default"]; ok {
		f.Default = stringPtr(v)
	} else if v, ok := raw["Default"]; ok {
		f.Default = stringPtr(v)
	}
	if p, ok := raw["privileges"].(map[string]bool); ok {
		f.Privileges = p
	} else {
		f.Privileges = DefaultPrivileges()
	}
	return f
}

// ExtractLength pulls the parenthesized length/precision suffix out of a
// full type string, e.g. "varchar(255)" → "255".
func ExtractLength(fullType string) string {
	m := lengthRe.FindStringSubmatch(fullType)
	if m == nil {
		return ""
	}
	return m[1]
}

func DefaultPrivileges() map[string]bool {
	return map[string]bool{"select": true, "insert": true, "update": true, "references": true}
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			switch s := v.(type) {
			case string:
				return s
			case []byte:
				return string(s)
			default:
				return fmt.Sprint(v)
			}
		}
	}
	return ""
}

func boolOr(raw map[string]any, key string, fallback bool) bool {
	if v, ok := raw[key].(bool); ok {
		return v
	}
	return fallback
}

func stringPtr(v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		s = fmt.Sprint(v)
	}
	return &s
}
