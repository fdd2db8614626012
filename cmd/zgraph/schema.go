package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the entities of the schema file",
		Long: `Describe prints every entity of the schema file with its table, columns
and associations. With --check it also connects to the database and reports
tables the schema maps but the database lacks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSchema()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			s.Describe(out)
			if !check {
				return nil
			}

			c, done, err := a.connect(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer done()

			missing, err := c.MissingTables(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			if len(missing) == 0 {
				successColor.Fprintln(out, "all mapped tables exist")
				return nil
			}
			for _, t := range missing {
				fmt.Fprintf(out, "%s %s\n", errorColor.Sprint("missing table"), t)
			}
			return fmt.Errorf("%d mapped tables are missing", len(missing))
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "compare the schema with the database tables")
	return cmd
}
