package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/model"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List embedding model presets and distance metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tDIMENSIONS")
			for _, m := range model.KnownModels {
				d, _ := m.Dimensions()
				fmt.Fprintf(w, "%s\t%d\n", m, d)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "\nmetrics: %s, %s, %s\n",
				vectorize.MetricCosine, vectorize.MetricEuclidean, vectorize.MetricDotProduct)
			return err
		},
	}
}
