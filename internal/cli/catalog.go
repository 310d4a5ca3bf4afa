package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib/catalog"
	"github.com/hupe1980/knnlib/codec"
)

func newCatalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the build catalog",
	}
	cmd.AddCommand(newCatalogListCmd(a), newCatalogShowCmd(a))
	return cmd
}

func newCatalogListCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List registered builds, all or the versions of one name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			cat, err := openCatalog(cmd.Context(), a.cfg.Catalog)
			if err != nil {
				return err
			}
			defer cat.Close()

			records, err := cat.List(cmd.Context(), name)
			if err != nil {
				return err
			}
			if jsonOut {
				if records == nil {
					records = []catalog.Record{}
				}
				return codec.Default.Encode(cmd.OutOrStdout(), records)
			}
			return printRecords(cmd, records)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func newCatalogShowCmd(a *app) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print one catalog record as JSON, the latest version by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.lookup(cmd, args[0], version)
			if err != nil {
				return err
			}
			return codec.Default.Encode(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version (default latest)")
	return cmd
}

func printRecords(cmd *cobra.Command, records []catalog.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No builds registered.")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tENGINE\tSPACE\tDESCRIPTION\tCOUNT\tDIM\tCREATED\tBLOB")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Name, r.Version, r.Engine, r.Space, r.Description, r.Count, r.Dimension,
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.BlobKey)
	}
	return tw.Flush()
}
