package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/noflyroute/internal/geo"
	"github.com/sells-group/noflyroute/internal/pipeline"
	"github.com/sells-group/noflyroute/internal/route"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a route and export it with the exclusion zones",
	Example: "  noflyroute plan --origin 39.9208,32.8541 --destination 39.8917,32.8597\n" +
		"  noflyroute plan --origin 39.92,32.85 --destination 39.89,32.86 --policy penalize --multiplier 5",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := planRequestFromFlags(cmd)
		if err != nil {
			return err
		}
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
			return eris.Wrap(err, "plan: prepare scene")
		}

		res, err := scene.Plan(ctx, req)
		if err != nil {
			return eris.Wrap(err, "plan")
		}
		paths, err := res.WriteFiles(out)
		if err != nil {
			return err
		}

		zap.L().Info("route planned",
			zap.String("run_id", res.RunID),
			zap.Int("nodes", len(res.Route.Nodes)),
			zap.Float64("length_m", res.Route.Length),
			zap.Duration("elapsed", res.Duration),
		)
		formatPlanSummary(os.Stdout, req, res, paths)
		return nil
	},
}

func init() {
	addPlanFlags(planCmd.Flags())
	rootCmd.AddCommand(planCmd)
}

func addPlanFlags(f *pflag.FlagSet) {
	f.String("origin", "", "origin as lat,lon (default from config)")
	f.String("destination", "", "destination as lat,lon (default from config)")
	f.String("policy", "", "zone policy: exclude or penalize (default from config)")
	f.Float64("multiplier", 0, "penalize multiplier, >= 1 (default from config)")
	f.String("format", "", "export format: geojson, shapefile or both (default from config)")
	f.String("out", "", "export directory (default from config)")
	f.Bool("clip", false, "export only the zones near the route")
}

// planRequestFromFlags merges plan flags over the planner config.
func planRequestFromFlags(cmd *cobra.Command) (pipeline.PlanRequest, error) {
	origin := stringFlag(cmd, "origin", cfg.Planner.Origin)
	destination := stringFlag(cmd, "destination", cfg.Planner.Destination)
	if origin == "" || destination == "" {
		return pipeline.PlanRequest{}, eris.New("plan: --origin and --destination are required")
	}

	var (
		req pipeline.PlanRequest
		err error
	)
	if req.Origin, err = geo.ParseCoordinate(origin); err != nil {
		return req, eris.Wrap(err, "plan: --origin")
	}
	if req.Destination, err = geo.ParseCoordinate(destination); err != nil {
		return req, eris.Wrap(err, "plan: --destination")
	}

	multiplier := cfg.Planner.Multiplier
	if cmd.Flags().Changed("multiplier") {
		multiplier, _ = cmd.Flags().GetFloat64("multiplier")
	}
	req.Constraint, err = parseConstraint(stringFlag(cmd, "policy", cfg.Planner.Policy), multiplier)
	if err != nil {
		return req, err
	}
	req.ClipZones, _ = cmd.Flags().GetBool("clip")
	return req, nil
}

func parseConstraint(policy string, multiplier float64) (route.Constraint, error) {
	p, err := route.ParsePolicy(policy)
	if err != nil {
		return route.Constraint{}, err
	}
	c := route.ExcludeZones()
	if p == route.Penalize {
		c = route.PenalizeZones(multiplier)
	}
	return c, c.Validate()
}

func outputFromFlags(cmd *cobra.Command) (pipeline.Output, error) {
	out := cfg.Export
	if dir := stringFlag(cmd, "out", ""); dir != "" {
		out.Dir = dir
	}
	format, err := pipeline.ParseFormat(stringFlag(cmd, "format", string(out.Format)))
	if err != nil {
		return out, err
	}
	out.Format = format
	return out, nil
}

// stringFlag returns the flag value when set, otherwise fallback.
func stringFlag(cmd *cobra.Command, name, fallback string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return fallback
}

// formatPlanSummary writes a short report of a planned route to out.
func formatPlanSummary(out io.Writer, req pipeline.PlanRequest, res *pipeline.PlanResult, paths []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Origin:\t%s\n", req.Origin)
	_, _ = fmt.Fprintf(w, "Destination:\t%s\n", req.Destination)
	_, _ = fmt.Fprintf(w, "Constraint:\t%s\n", req.Constraint)
	_, _ = fmt.Fprintf(w, "Nodes:\t%d\n", len(res.Route.Nodes))
	_, _ = fmt.Fprintf(w, "Length:\t%.1f m\n", res.Route.Length)
	if res.Route.Cost != res.Route.Length {
		_, _ = fmt.Fprintf(w, "Cost:\t%.1f\n", res.Route.Cost)
	}
	_, _ = fmt.Fprintf(w, "Zones exported:\t%d\n", len(res.ZonesFC.Features))
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "Wrote:\t%s\n", p)
	}
	_ = w.Flush()
}
