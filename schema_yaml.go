package zgraph

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type yamlSchema struct {
	Naming   string       `yaml:"naming"`
	Entities []yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	Name       string         `yaml:"name"`
	Table      string         `yaml:"table"`
	Extends    string         `yaml:"extends"`
	Abstract   bool           `yaml:"abstract"`
	Properties []yamlProperty `yaml:"properties"`
}

type yamlProperty struct {
	Name      string         `yaml:"name"`
	Column    string         `yaml:"column"`
	Kind      string         `yaml:"kind"`
	Target    string         `yaml:"target"`
	ID        bool           `yaml:"id"`
	Version   bool           `yaml:"version"`
	Nullable  bool           `yaml:"nullable"`
	MappedBy  string         `yaml:"mapped_by"`
	JoinTable *yamlJoinTable `yaml:"join_table"`
	Key       string         `yaml:"foreign_key"`
}

type yamlJoinTable struct {
	Table            string `yaml:"table"`
	JoinColumn       string `yaml:"join_column"`
	TargetJoinColumn string `yaml:"target_join_column"`
}

// LoadSchemaFile reads a YAML schema description from path.
func LoadSchemaFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSchemaYAML(f)
}

// LoadSchemaYAML reads a YAML schema description:
//
//	naming: upper_snake            # or plural_snake
//	entities:
//	  - name: Book
//	    properties:
//	      - {name: id, id: true}
//	      - {name: name}
//	      - {name: store, kind: many_to_one, target: BookStore, nullable: true}
//	      - {name: authors, kind: many_to_many, target: Author}
func LoadSchemaYAML(r io.Reader) (*Schema, error) {
	var doc yamlSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("zgraph: decoding schema: %w", err)
	}

	var opts []SchemaOption
	switch doc.Naming {
	case "", "upper_snake":
	case "plural_snake":
		opts = append(opts, WithNaming(NewPluralSnakeNaming()))
	default:
		return nil, newConfigError("schema", "", "", fmt.Sprintf("unknown naming strategy %q", doc.Naming))
	}

	b := NewSchemaBuilder(opts...)
	for _, ye := range doc.Entities {
		var eb *EntityBuilder
		if ye.Abstract {
			eb = b.MappedSuperclass(ye.Name)
		} else {
			eb = b.Entity(ye.Name)
		}
		if ye.Table != "" {
			eb.Table(ye.Table)
		}
		if ye.Extends != "" {
			eb.Extends(ye.Extends)
		}
		for _, yp := range ye.Properties {
			if err := addYAMLProperty(eb, ye.Name, yp); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}

func addYAMLProperty(eb *EntityBuilder, entity string, yp yamlProperty) error {
	var opts []PropOption
	if yp.Column != "" {
		opts = append(opts, Column(yp.Column))
	}
	if yp.Nullable {
		opts = append(opts, Nullable())
	}
	if yp.ID {
		opts = append(opts, Identifier())
	}
	if yp.Version {
		opts = append(opts, Versioned())
	}
	if yp.MappedBy != "" {
		opts = append(opts, MappedBy(yp.MappedBy))
	}
	if yp.Key != "" {
		opts = append(opts, ForeignKey(yp.Key))
	}
	if jt := yp.JoinTable; jt != nil {
		opts = append(opts, JoinTable(jt.Table, jt.JoinColumn, jt.TargetJoinColumn))
	}

	switch yp.Kind {
	case "", "scalar":
		eb.Scalar(yp.Name, opts...)
	case "many_to_one":
		eb.ManyToOne(yp.Name, yp.Target, opts...)
	case "one_to_one":
		eb.OneToOne(yp.Name, yp.Target, opts...)
	case "one_to_many":
		eb.OneToMany(yp.Name, yp.Target, yp.MappedBy, opts...)
	case "many_to_many":
		eb.ManyToMany(yp.Name, yp.Target, opts...)
	default:
		return newConfigError("schema", entity, yp.Name, fmt.Sprintf("unknown property kind %q", yp.Kind))
	}
	return nil
}
