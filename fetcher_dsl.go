package zgraph

import (
	"fmt"
	"slices"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// fetchLexer tokenizes fetch specifications such as
//
//	Book { name, store { name }, authors { firstName }, ...Audit }
//	fragment Audit on Book { edition }
var fetchLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Spread", Pattern: `\.\.\.`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[{},*]`},
})

type fetchDocument struct {
	Pos         lexer.Position
	Definitions []*fetchDefinition `@@*`
}

type fetchDefinition struct {
	Fragment *fetchFragment `  "fragment" @@`
	Root     *fetchRoot     `| @@`
}

type fetchFragment struct {
	Pos  lexer.Position
	Name string      `@Ident "on"`
	Type string      `@Ident`
	Body *fetchBlock `@@`
}

type fetchRoot struct {
	Pos  lexer.Position
	Type string      `@Ident`
	Body *fetchBlock `@@`
}

type fetchBlock struct {
	Items []*fetchItem `"{" ( @@ ( "," @@ )* ","? )? "}"`
}

type fetchItem struct {
	Pos    lexer.Position
	Spread string      `(  Spread @Ident`
	Name   string      ` | @Ident`
	Star   bool        `   ( @"*"`
	Depth  int         `     @Int? )?`
	Body   *fetchBlock `   @@? )`
}

var fetchParser = participle.MustBuild[fetchDocument](
	participle.Lexer(fetchLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// ParseFetcher builds a fetcher from its text form. The document holds one
// root selection and any number of fragments:
//
//	TreeNode { name, childNodes*3, parent { name } }
//
// A field followed by *n is fetched recursively n levels deep with the
// shape of its enclosing selection.
func ParseFetcher(meta MetadataProvider, src string) (*Fetcher, error) {
	doc, err := fetchParser.ParseString("", src)
	if err != nil {
		return nil, &ConfigError{Op: "fetcher", Msg: err.Error(), Err: err}
	}

	b := &fetchBuilder{meta: meta, fragments: make(map[string]*fetchFragment)}
	var root *fetchRoot
	for _, def := range doc.Definitions {
		switch {
		case def.Fragment != nil:
			if _, dup := b.fragments[def.Fragment.Name]; dup {
				return nil, newConfigError("fetcher", "", "", fmt.Sprintf("%s: duplicate fragment %q", def.Fragment.Pos, def.Fragment.Name))
			}
			b.fragments[def.Fragment.Name] = def.Fragment
		case root != nil:
			return nil, newConfigError("fetcher", "", "", fmt.Sprintf("%s: more than one root selection", def.Root.Pos))
		default:
			root = def.Root
		}
	}
	if root == nil {
		return nil, newConfigError("fetcher", "", "", "missing root selection")
	}

	e, err := meta.Entity(root.Type)
	if err != nil {
		return nil, err
	}
	f, err := b.block(NewFetcher(e), root.Body, nil)
	if err != nil {
		return nil, err
	}
	return f, f.Err()
}

// MustParseFetcher is like ParseFetcher but panics on error.
func MustParseFetcher(meta MetadataProvider, src string) *Fetcher {
	f, err := ParseFetcher(meta, src)
	if err != nil {
		panic(err)
	}
	return f
}

type fetchBuilder struct {
	meta      MetadataProvider
	fragments map[string]*fetchFragment
}

// block adds the items of body to f. expanding holds the fragments being
// expanded on the current path, to reject cycles.
func (b *fetchBuilder) block(f *Fetcher, body *fetchBlock, expanding []string) (*Fetcher, error) {
	e := f.Entity()
	for _, it := range body.Items {
		switch {
		case it.Spread != "":
			frag, ok := b.fragments[it.Spread]
			if !ok {
				return nil, newConfigError("fetcher", e.Name, "", fmt.Sprintf("%s: unknown fragment %q", it.Pos, it.Spread))
			}
			if slices.Contains(expanding, it.Spread) {
				return nil, newConfigError("fetcher", e.Name, "",
					fmt.Sprintf("%s: fragment %q references itself", it.Pos, it.Spread))
			}
			ft, err := b.meta.Entity(frag.Type)
			if err != nil {
				return nil, err
			}
			if !e.IsSubtypeOf(ft) {
				return nil, newConfigError("fetcher", e.Name, "",
					fmt.Sprintf("%s: fragment %q is defined on %s", it.Pos, frag.Name, frag.Type))
			}
			var err2 error
			if f, err2 = b.block(f, frag.Body, append(slices.Clip(expanding), it.Spread)); err2 != nil {
				return nil, err2
			}

		case it.Star:
			if it.Depth <= 0 {
				return nil, newConfigError("fetcher", e.Name, it.Name,
					fmt.Sprintf("%s: recursion needs an explicit positive depth", it.Pos))
			}
			if it.Body != nil {
				return nil, newConfigError("fetcher", e.Name, it.Name,
					fmt.Sprintf("%s: a recursive field takes the shape of its parent", it.Pos))
			}
			f = f.Recursive(it.Name, it.Depth)

		case it.Body != nil:
			p, ok := e.Prop(it.Name)
			if !ok {
				return nil, unknownProperty("fetcher", e, it.Name)
			}
			if !p.IsAssociation() {
				return nil, newConfigError("fetcher", e.Name, it.Name, "only associations take a child selection")
			}
			target, err := b.meta.Entity(p.Assoc.Target)
			if err != nil {
				return nil, err
			}
			child, err := b.block(NewFetcher(target), it.Body, expanding)
			if err != nil {
				return nil, err
			}
			f = f.With(it.Name, child)

		default:
			f = f.Add(it.Name)
		}
		if f.Err() != nil {
			return nil, f.Err()
		}
	}
	return f, nil
}
