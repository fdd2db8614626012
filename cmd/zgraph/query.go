package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rezakhademix/zgraph"
)

// queryFlags select the root objects of render and fetch.
type queryFlags struct {
	ids    []string
	limit  int
	offset int
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&q.ids, "id", nil, "root object ids (repeatable)")
	cmd.Flags().IntVar(&q.limit, "limit", 0, "maximum number of root objects")
	cmd.Flags().IntVar(&q.offset, "offset", 0, "root objects to skip")
}

// build parses spec against s and returns the root query selecting it.
func (q *queryFlags) build(s *zgraph.Schema, spec string) (zgraph.Query, error) {
	f, err := zgraph.ParseFetcher(s, spec)
	if err != nil {
		return zgraph.Query{}, err
	}
	t := zgraph.NewTable(s, f.Entity().Name)
	query := zgraph.From(t).Select(t.Fetch(f)).OrderBy(t.ID().Asc())
	if len(q.ids) > 0 {
		query = query.Where(t.ID().In(parseIDs(q.ids)...))
	}
	if q.limit > 0 {
		query = query.Limit(q.limit)
	}
	if q.offset > 0 {
		query = query.Offset(q.offset)
	}
	return query, query.Err()
}

// parseIDs keeps ids that are not integers, uuids for example, as text.
func parseIDs(raw []string) []any {
	ids := make([]any, len(raw))
	for i, s := range raw {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids[i] = n
		} else {
			ids[i] = s
		}
	}
	return ids
}

func newRenderCmd(a *app) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "render SPEC",
		Short: "Print the root statement of a fetch specification",
		Long: `Render prints the statement selecting the root objects of a fetch
specification in the configured dialect. Associations are loaded by later
batched statements that depend on the root rows, so they are not shown.`,
		Example: `  zgraph render 'Book { name, store { name } }' --id 1 --id 2 --dialect postgres`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSchema()
			if err != nil {
				return err
			}
			query, err := q.build(s, args[0])
			if err != nil {
				return err
			}
			d, err := a.cfg.ResolveDialect()
			if err != nil {
				return err
			}
			text, params, err := query.SQL(d)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, highlightSQL(text))
			if len(params) > 0 {
				fmt.Fprintf(out, "%s %v\n", infoColor.Sprint("args:"), params)
			}
			return nil
		},
	}
	q.register(cmd)
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		q      queryFlags
		output string
	)
	cmd := &cobra.Command{
		Use:     "fetch SPEC",
		Short:   "Fetch an object graph and print it",
		Example: `  zgraph fetch 'BookStore { name, books { name, authors { firstName } } }' -o table`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "table" {
				return fmt.Errorf("unknown output format %q", output)
			}
			s, err := a.loadSchema()
			if err != nil {
				return err
			}
			query, err := q.build(s, args[0])
			if err != nil {
				return err
			}
			c, done, err := a.connect(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer done()

			objects, err := query.Objects(cmd.Context(), c)
			if err != nil {
				return err
			}
			a.logger.Debug("fetched", "roots", len(objects))
			if output == "table" {
				return writeTable(cmd.OutOrStdout(), objects)
			}
			return writeJSON(cmd.OutOrStdout(), objects)
		},
	}
	q.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or table")
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "table"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}
