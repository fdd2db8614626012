package main

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/table"

	"github.com/rezakhademix/zgraph"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	keywordColor = color.New(color.FgCyan, color.Bold)
)

var sqlKeywords = regexp.MustCompile(`\b(select|distinct|from|as|inner join|left join|on|where|and|or|not|in|exists|is null|is not null|like|group by|having|order by|asc|desc|limit|offset)\b`)

// highlightSQL colors the keywords the renderer emits.
func highlightSQL(text string) string {
	if color.NoColor {
		return text
	}
	return sqlKeywords.ReplaceAllStringFunc(text, func(kw string) string {
		return keywordColor.Sprint(kw)
	})
}

func writeJSON(w io.Writer, objects []*zgraph.Object) error {
	if objects == nil {
		objects = []*zgraph.Object{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(objects)
}

// writeTable prints one row per root object and one column per property
// loaded on any of them. Associations are shown in their compact form.
func writeTable(w io.Writer, objects []*zgraph.Object) error {
	if len(objects) == 0 {
		fmt.Fprintln(w, "no objects")
		return nil
	}
	var props []*zgraph.Property
	for _, p := range objects[0].Type().Props() {
		for _, o := range objects {
			if o.IsLoaded(p.Name) {
				props = append(props, p)
				break
			}
		}
	}

	tw := table.NewWriter()
	header := make(table.Row, len(props))
	for i, p := range props {
		header[i] = p.Name
	}
	tw.AppendHeader(header)
	for _, o := range objects {
		row := make(table.Row, len(props))
		for i, p := range props {
			row[i] = cell(o, p)
		}
		tw.AppendRow(row)
	}
	fmt.Fprintln(w, tw.Render())
	return nil
}

func cell(o *zgraph.Object, p *zgraph.Property) string {
	switch {
	case !o.IsLoaded(p.Name):
		return ""
	case o.IsAbsent(p.Name):
		return "null"
	case p.IsReference():
		ref, _ := o.Ref(p.Name)
		return ref.String()
	case p.IsList():
		list, _ := o.List(p.Name)
		parts := make([]string, len(list))
		for i, t := range list {
			parts[i] = t.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	v, _ := o.Get(p.Name)
	return fmt.Sprint(v)
}
