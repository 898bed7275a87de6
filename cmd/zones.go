package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/noflyroute/internal/pipeline"
)

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Export the exclusion zones of the region",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, err := outputFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore(st)

		scene, err := prepareScene(ctx, st)
		if err != nil {
			return eris.Wrap(err, "zones: prepare scene")
		}

		paths, err := pipeline.WriteZones(out, scene.ZonesFC())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d zones in %s\n", scene.Zones.Len(), scene.Region)
		for _, p := range paths {
			fmt.Fprintf(os.Stdout, "Wrote %s\n", p)
		}
		return nil
	},
}

func init() {
	zonesCmd.Flags().String("format", "", "export format: geojson, shapefile or both (default from config)")
	zonesCmd.Flags().String("out", "", "export directory (default from config)")
	rootCmd.AddCommand(zonesCmd)
}
