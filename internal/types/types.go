package types

import (
	"fmt"
	"sort"

	"github.com/tobsdb/pivot/pkg"
)

type Type string

const (
	TypeString   Type = "string"
	TypeFloat    Type = "float"
	TypeInteger  Type = "integer"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeDateTime Type = "datetime"
	TypeObject   Type = "object"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeString, TypeFloat, TypeInteger, TypeBoolean, TypeDate, TypeDateTime, TypeObject:
		return true
	}
	return false
}

func (t Type) IsNumeric() bool { return t == TypeInteger || t == TypeFloat }

func (t Type) IsTemporal() bool { return t == TypeDate || t == TypeDateTime }

// Schema is an ordered mapping of column name to type.
type Schema struct {
	m *pkg.InsertSortMap[string, Type]
}

func NewSchema() *Schema {
	return &Schema{pkg.NewInsertSortMap[string, Type]()}
}

// Column is one name/type pair of an ordered schema definition.
type Column struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// SchemaOf builds a schema from ordered columns.
func SchemaOf(cols ...Column) (*Schema, error) {
	s := NewSchema()
	for _, c := range cols {
		if err := s.Add(c.Name, c.Type); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SchemaFromMap builds a schema from an unordered mapping; columns are sorted by name.
func SchemaFromMap(m map[string]string) (*Schema, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	s := NewSchema()
	for _, name := range names {
		if err := s.Add(name, Type(m[name])); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) Add(name string, t Type) error {
	if name == "" {
		return fmt.Errorf("Column name cannot be empty")
	}
	if !t.IsValid() {
		return fmt.Errorf("Invalid type %q for column %q", t, name)
	}
	if s.m.Has(name) {
		return fmt.Errorf("Duplicate column %q", name)
	}
	s.m.Push(name, t)
	return nil
}

func (s *Schema) Get(name string) Type { return s.m.Get(name) }

func (s *Schema) Has(name string) bool { return s.m.Has(name) }

func (s *Schema) Len() int { return s.m.Len() }

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.m.Sorted))
	copy(names, s.m.Sorted)
	return names
}

func (s *Schema) Columns() []Column {
	cols := make([]Column, 0, s.Len())
	for _, name := range s.m.Sorted {
		cols = append(cols, Column{name, s.m.Get(name)})
	}
	return cols
}

// Map returns the schema as a plain name -> type-name map.
func (s *Schema) Map() map[string]string {
	m := make(map[string]string, s.Len())
	for name, t := range s.m.Idx {
		m[name] = string(t)
	}
	return m
}

func (s *Schema) Clone() *Schema { return &Schema{s.m.Clone()} }
