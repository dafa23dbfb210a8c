package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CMoncur/proto-scrape/internal/site"
	"github.com/CMoncur/proto-scrape/internal/site/catalog"
	"github.com/CMoncur/proto-scrape/internal/storage/postgres"
)

func builtinAdapters(cmd *cobra.Command, names []string) ([]site.Adapter, error) {
	cfg := resolveConfig(cmd.Context())
	adapters, err := catalog.Registry().Build(names, site.Deps{
		Logger:  resolveLogger(cmd.Context()),
		Options: cfg.HarvestOptions(),
	})
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	return adapters, nil
}

func newAdaptersCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "adapters",
		Short:       "List registered adapters and their destination tables",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			adapters, err := builtinAdapters(cmd, nil)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADAPTER\tTABLE\tKEY")
			for _, a := range adapters {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name(), a.Table().Name, strings.Join(a.NaturalKey(), ","))
			}
			return tw.Flush()
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schema [adapter...]",
		Short:       "Print PostgreSQL DDL for adapter destination tables",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			adapters, err := builtinAdapters(cmd, args)
			if err != nil {
				return err
			}
			for _, a := range adapters {
				ddl, err := postgres.CreateTableSQL(a.Table(), a.NaturalKey())
				if err != nil {
					return fmt.Errorf("%s: %w", a.Name(), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ddl)
			}
			return nil
		},
	}
}
