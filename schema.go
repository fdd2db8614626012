package zgraph

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
	"github.com/jedib0t/go-pretty/table"
)

// Naming derives table and column names that were not given explicitly.
type Naming interface {
	Table(entity string) string
	Column(prop string) string
	ForeignKey(prop string) string
	MiddleTable(owner, target string) string
	JoinColumn(entity string) string
}

// UpperSnakeNaming produces BOOK_STORE tables, FIRST_NAME columns, STORE_ID
// foreign keys and BOOK_AUTHOR_MAPPING middle tables.
type UpperSnakeNaming struct{}

func (UpperSnakeNaming) Table(entity string) string { return strcase.ToScreamingSnake(entity) }
func (UpperSnakeNaming) Column(prop string) string  { return strcase.ToScreamingSnake(prop) }
func (UpperSnakeNaming) ForeignKey(prop string) string {
	return strcase.ToScreamingSnake(prop) + "_ID"
}
func (UpperSnakeNaming) MiddleTable(owner, target string) string {
	return strcase.ToScreamingSnake(owner) + "_" + strcase.ToScreamingSnake(target) + "_MAPPING"
}
func (UpperSnakeNaming) JoinColumn(entity string) string {
	return strcase.ToScreamingSnake(entity) + "_ID"
}

// PluralSnakeNaming produces book_stores tables, first_name columns,
// store_id foreign keys and alphabetical pivot tables such as author_book.
type PluralSnakeNaming struct {
	client *pluralize.Client
}

// NewPluralSnakeNaming returns a PluralSnakeNaming.
func NewPluralSnakeNaming() PluralSnakeNaming {
	return PluralSnakeNaming{client: pluralize.NewClient()}
}

func (n PluralSnakeNaming) Table(entity string) string {
	return n.client.Plural(strcase.ToSnake(entity))
}
func (PluralSnakeNaming) Column(prop string) string     { return strcase.ToSnake(prop) }
func (PluralSnakeNaming) ForeignKey(prop string) string { return strcase.ToSnake(prop) + "_id" }
func (n PluralSnakeNaming) MiddleTable(owner, target string) string {
	names := []string{
		n.client.Singular(strcase.ToSnake(owner)),
		n.client.Singular(strcase.ToSnake(target)),
	}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}
func (n PluralSnakeNaming) JoinColumn(entity string) string {
	return n.client.Singular(strcase.ToSnake(entity)) + "_id"
}

// Schema is an immutable MetadataProvider built by SchemaBuilder.
type Schema struct {
	entities map[string]*EntityType
	order    []*EntityType
}

// Entity implements MetadataProvider.
func (s *Schema) Entity(name string) (*EntityType, error) {
	if e, ok := s.entities[name]; ok {
		return e, nil
	}
	return nil, &ConfigError{Op: "schema", Entity: name, Msg: "unknown entity", Err: ErrUnknownEntity}
}

// MustEntity is like Entity but panics on error.
func (s *Schema) MustEntity(name string) *EntityType {
	e, err := s.Entity(name)
	if err != nil {
		panic(err)
	}
	return e
}

// Entities returns every type in declaration order.
func (s *Schema) Entities() []*EntityType { return s.order }

// Describe writes one table per entity listing its properties.
func (s *Schema) Describe(w io.Writer) {
	for _, e := range s.order {
		tw := table.NewWriter()
		title := e.Name + " (" + e.Table + ")"
		if e.Abstract {
			title = e.Name + " (mapped superclass)"
		}
		tw.AppendHeader(table.Row{"Property", "Column", "Kind", "Target", "Nullable", "Key"})
		for _, p := range e.Props() {
			kind, target, column := "scalar", "", p.Column
			if p.IsAssociation() {
				kind, target = p.Assoc.Kind.String(), p.Assoc.Target
				switch {
				case p.Assoc.MappedBy != "":
					column = "mappedBy " + p.Assoc.MappedBy
				case p.Assoc.Middle != nil:
					column = fmt.Sprintf("%s(%s, %s)", p.Assoc.Middle.Table,
						p.Assoc.Middle.JoinColumn, p.Assoc.Middle.TargetJoinColumn)
				default:
					column = p.Assoc.ForeignKey
				}
			}
			key := ""
			if p.IsID {
				key = "id"
			} else if p.IsVersion {
				key = "version"
			}
			tw.AppendRow(table.Row{p.Name, column, kind, target, p.Nullable, key})
		}
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, tw.Render())
	}
}

// SchemaOption configures a SchemaBuilder.
type SchemaOption func(*SchemaBuilder)

// WithNaming sets the naming strategy. Default is UpperSnakeNaming.
func WithNaming(n Naming) SchemaOption {
	return func(b *SchemaBuilder) {
		b.naming = n
	}
}

// SchemaBuilder collects entity declarations. Errors are accumulated and
// reported by Build.
type SchemaBuilder struct {
	naming   Naming
	entities []*EntityBuilder
	byName   map[string]*EntityBuilder
	errs     []error
}

// NewSchemaBuilder creates an empty builder.
func NewSchemaBuilder(opts ...SchemaOption) *SchemaBuilder {
	b := &SchemaBuilder{
		naming: UpperSnakeNaming{},
		byName: make(map[string]*EntityBuilder),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Entity declares (or returns the already declared) entity type name.
func (b *SchemaBuilder) Entity(name string) *EntityBuilder {
	return b.declare(name, false)
}

// MappedSuperclass declares an abstract type whose properties are inherited
// by entities that extend it.
func (b *SchemaBuilder) MappedSuperclass(name string) *EntityBuilder {
	return b.declare(name, true)
}

func (b *SchemaBuilder) declare(name string, abstract bool) *EntityBuilder {
	if eb, ok := b.byName[name]; ok {
		if eb.abstract != abstract {
			b.errs = append(b.errs, newConfigError("schema", name, "",
				"declared both as entity and as mapped superclass"))
		}
		return eb
	}
	eb := &EntityBuilder{name: name, abstract: abstract}
	b.entities = append(b.entities, eb)
	b.byName[name] = eb
	return eb
}

// PropOption adjusts a property declaration.
type PropOption func(*propDef)

// Column overrides the column name.
func Column(name string) PropOption {
	return func(p *propDef) { p.column = name }
}

// Nullable marks the property as nullable.
func Nullable() PropOption {
	return func(p *propDef) { p.nullable = true }
}

// ForeignKey sets the FK column of an owning reference.
func ForeignKey(column string) PropOption {
	return func(p *propDef) { p.fk = column }
}

// JoinTable sets the middle table of an owning many-to-many association.
func JoinTable(table, joinColumn, targetJoinColumn string) PropOption {
	return func(p *propDef) {
		p.middle = &MiddleTable{Table: table, JoinColumn: joinColumn, TargetJoinColumn: targetJoinColumn}
	}
}

// MappedBy makes a reference the inverse side of the named owning reference.
func MappedBy(prop string) PropOption {
	return func(p *propDef) { p.mappedBy = prop }
}

// Identifier marks the property as the identifier.
func Identifier() PropOption {
	return func(p *propDef) { p.id = true }
}

// Versioned marks the property as the optimistic lock version.
func Versioned() PropOption {
	return func(p *propDef) { p.version = true }
}

type propDef struct {
	name     string
	column   string
	nullable bool
	id       bool
	version  bool
	kind     AssociationKind // zero for scalars
	target   string
	fk       string
	mappedBy string
	middle   *MiddleTable
}

// EntityBuilder declares one entity or mapped superclass.
type EntityBuilder struct {
	name     string
	table    string
	extends  string
	abstract bool
	props    []*propDef
}

// Table sets the table name.
func (eb *EntityBuilder) Table(name string) *EntityBuilder {
	eb.table = name
	return eb
}

// Extends makes the type inherit the properties of a mapped superclass.
func (eb *EntityBuilder) Extends(super string) *EntityBuilder {
	eb.extends = super
	return eb
}

// ID declares the identifier property.
func (eb *EntityBuilder) ID(name string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, id: true}, opts)
}

// Version declares the version property.
func (eb *EntityBuilder) Version(name string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, version: true}, opts)
}

// Scalar declares scalar properties.
func (eb *EntityBuilder) Scalar(name string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name}, opts)
}

// Scalars declares several scalar properties with default options.
func (eb *EntityBuilder) Scalars(names ...string) *EntityBuilder {
	for _, n := range names {
		eb.Scalar(n)
	}
	return eb
}

// ManyToOne declares an owning reference backed by a foreign key.
func (eb *EntityBuilder) ManyToOne(name, target string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, kind: ToOne, target: target}, opts)
}

// OneToOne declares a reference. With MappedBy it is the inverse side,
// otherwise it owns a foreign key like ManyToOne.
func (eb *EntityBuilder) OneToOne(name, target string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, kind: ToOne, target: target}, opts)
}

// OneToMany declares the inverse side of a reference declared on target.
func (eb *EntityBuilder) OneToMany(name, target, mappedBy string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, kind: ToMany, target: target, mappedBy: mappedBy}, opts)
}

// ManyToMany declares a many-to-many association. Without MappedBy it owns
// the middle table.
func (eb *EntityBuilder) ManyToMany(name, target string, opts ...PropOption) *EntityBuilder {
	return eb.add(&propDef{name: name, kind: ManyToMany, target: target}, opts)
}

func (eb *EntityBuilder) add(p *propDef, opts []PropOption) *EntityBuilder {
	for _, opt := range opts {
		opt(p)
	}
	eb.props = append(eb.props, p)
	return eb
}

// Build validates the declarations and returns the schema.
func (b *SchemaBuilder) Build() (*Schema, error) {
	errs := append([]error(nil), b.errs...)
	s := &Schema{entities: make(map[string]*EntityType, len(b.entities))}

	building := make(map[string]bool)
	var build func(eb *EntityBuilder) *EntityType
	build = func(eb *EntityBuilder) *EntityType {
		if e, ok := s.entities[eb.name]; ok {
			return e
		}
		if building[eb.name] {
			errs = append(errs, newConfigError("schema", eb.name, "", "inheritance cycle"))
			return nil
		}
		building[eb.name] = true
		defer delete(building, eb.name)

		var super *EntityType
		if eb.extends != "" {
			sb, ok := b.byName[eb.extends]
			switch {
			case !ok:
				errs = append(errs, newConfigError("schema", eb.name, "",
					fmt.Sprintf("super type %q is not declared", eb.extends)))
				return nil
			case !sb.abstract:
				errs = append(errs, newConfigError("schema", eb.name, "",
					fmt.Sprintf("super type %q is an entity, only mapped superclasses can be extended", eb.extends)))
				return nil
			}
			if super = build(sb); super == nil {
				return nil
			}
		}

		e, err := b.buildType(eb, super)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		s.entities[e.Name] = e
		s.order = append(s.order, e)
		return e
	}
	for _, eb := range b.entities {
		build(eb)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, e := range s.order {
		for _, p := range e.props {
			if !p.IsAssociation() {
				continue
			}
			if err := s.checkAssociation(e, p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// MustBuild is like Build but panics on error.
func (b *SchemaBuilder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func (b *SchemaBuilder) buildType(eb *EntityBuilder, super *EntityType) (*EntityType, error) {
	e := &EntityType{
		Name:     eb.name,
		Table:    eb.table,
		Abstract: eb.abstract,
		super:    super,
		byName:   make(map[string]*Property),
	}
	if e.Table == "" && !e.Abstract {
		e.Table = b.naming.Table(eb.name)
	}
	if super != nil {
		e.props = append(e.props, super.props...)
		for _, p := range super.props {
			e.byName[p.Name] = p
		}
		e.id = super.id
		e.version = super.version
	}

	var ids, versions []*Property
	for _, def := range eb.props {
		if _, dup := e.byName[def.name]; dup {
			return nil, newConfigError("schema", eb.name, def.name, "property is declared more than once")
		}
		p := &Property{
			Name:      def.name,
			Column:    def.column,
			Nullable:  def.nullable,
			IsID:      def.id,
			IsVersion: def.version,
		}
		if def.kind != 0 {
			p.Assoc = &Association{Kind: def.kind, Target: def.target, MappedBy: def.mappedBy}
			switch {
			case def.mappedBy != "":
			case def.kind == ToOne:
				p.Assoc.ForeignKey = def.fk
				if p.Assoc.ForeignKey == "" {
					p.Assoc.ForeignKey = b.naming.ForeignKey(def.name)
				}
			case def.kind == ManyToMany:
				m := def.middle
				if m == nil {
					m = &MiddleTable{Table: b.naming.MiddleTable(eb.name, def.target)}
				}
				if m.JoinColumn == "" {
					m.JoinColumn = b.naming.JoinColumn(eb.name)
				}
				if m.TargetJoinColumn == "" {
					m.TargetJoinColumn = b.naming.JoinColumn(def.target)
				}
				p.Assoc.Middle = m
			}
		} else if p.Column == "" {
			p.Column = b.naming.Column(def.name)
		}
		if p.IsID {
			ids = append(ids, p)
		}
		if p.IsVersion {
			versions = append(versions, p)
		}
		e.props = append(e.props, p)
		e.byName[p.Name] = p
	}

	if super != nil && super.id != nil && len(ids) > 0 {
		return nil, newConfigError("schema", eb.name, ids[0].Name,
			"cannot be marked as id because id has been declared in super type")
	}
	if super != nil && super.version != nil && len(versions) > 0 {
		return nil, newConfigError("schema", eb.name, versions[0].Name,
			"cannot be marked as version because version has been declared in super type")
	}
	if len(ids) > 1 {
		return nil, newConfigError("schema", eb.name, "",
			fmt.Sprintf("multiple id properties are not supported, but both %q and %q are marked as id",
				ids[0].Name, ids[1].Name))
	}
	if len(versions) > 1 {
		return nil, newConfigError("schema", eb.name, "",
			fmt.Sprintf("multiple version properties are not supported, but both %q and %q are marked as version",
				versions[0].Name, versions[1].Name))
	}
	if e.id == nil && len(ids) == 1 {
		e.id = ids[0]
	}
	if e.version == nil && len(versions) == 1 {
		e.version = versions[0]
	}
	if e.id == nil && !e.Abstract {
		return nil, newConfigError("schema", eb.name, "", "entity type must have an id property")
	}
	if e.id != nil && e.id.IsAssociation() {
		return nil, newConfigError("schema", eb.name, e.id.Name, "association cannot be id property")
	}
	if e.version != nil && e.version.IsAssociation() {
		return nil, newConfigError("schema", eb.name, e.version.Name, "association cannot be version property")
	}
	return e, nil
}

func (s *Schema) checkAssociation(e *EntityType, p *Property) error {
	target, ok := s.entities[p.Assoc.Target]
	if !ok {
		return newConfigError("schema", e.Name, p.Name, fmt.Sprintf("target type %q is not declared", p.Assoc.Target))
	}
	if target.Abstract {
		return newConfigError("schema", e.Name, p.Name, fmt.Sprintf("target type %q is a mapped superclass", target.Name))
	}
	if p.Assoc.MappedBy == "" {
		return nil
	}
	owning, ok := target.Prop(p.Assoc.MappedBy)
	if !ok {
		return newConfigError("schema", e.Name, p.Name,
			fmt.Sprintf("mappedBy %q is not a property of %s", p.Assoc.MappedBy, target.Name))
	}
	if !owning.IsAssociation() || owning.Assoc.MappedBy != "" {
		return newConfigError("schema", e.Name, p.Name,
			fmt.Sprintf("mappedBy %s.%s must be an owning association", target.Name, owning.Name))
	}
	if back, ok := s.entities[owning.Assoc.Target]; !ok || !e.IsSubtypeOf(back) {
		return newConfigError("schema", e.Name, p.Name,
			fmt.Sprintf("mappedBy %s.%s does not reference %s", target.Name, owning.Name, e.Name))
	}
	want := ToOne
	if p.Assoc.Kind == ManyToMany {
		want = ManyToMany
	}
	if owning.Assoc.Kind != want {
		return newConfigError("schema", e.Name, p.Name,
			fmt.Sprintf("a %s association cannot be mapped by the %s association %s.%s",
				p.Assoc.Kind, owning.Assoc.Kind, target.Name, owning.Name))
	}
	return nil
}
