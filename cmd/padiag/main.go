// Command padiag runs the polar alignment solver offline against saved
// plate-solve results, without the HTTP server.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/polargo/internal/polaralign"
	"github.com/star/polargo/internal/rotations"
	"github.com/star/polargo/internal/transform"
	"github.com/star/polargo/internal/wcs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	lat     float64
	lon     float64
	verbose bool
}

func (o *options) observer() (transform.Observer, error) {
	if o.lat < -90 || o.lat > 90 || o.lon < -180 || o.lon > 180 {
		return transform.Observer{}, fmt.Errorf("site coordinates (%.4f, %.4f) out of range", o.lat, o.lon)
	}
	if o.lat == 0 && o.lon == 0 {
		return transform.Observer{}, fmt.Errorf("observing site is required, pass --lat and --lon")
	}
	return transform.NewObserver(o.lat, o.lon), nil
}

func (o *options) logger() *slog.Logger {
	if o.verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "padiag",
		Short:         "Offline polar alignment diagnostics",
		Long:          "Run the polar alignment solver against saved plate-solve result files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Float64Var(&opts.lat, "lat", 0, "site latitude in degrees, north positive")
	root.PersistentFlags().Float64Var(&opts.lon, "lon", 0, "site longitude in degrees, east positive")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log solver internals to stderr")

	root.AddCommand(newShowCmd(opts))
	root.AddCommand(newSolveCmd(opts))
	root.AddCommand(newRefreshCmd(opts))
	root.AddCommand(newSimulateCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <solve-result.json>",
		Short: "Print the contents of one plate-solve result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sol, err := wcs.ParseFile(args[0])
			if err != nil {
				return err
			}
			mapper, err := wcs.NewTanMapper(sol)
			if err != nil {
				return err
			}
			ra, dec, err := mapper.PixelToSky(sol.Center())
			if err != nil {
				return err
			}

			scale := math.Sqrt(math.Abs(sol.CD11*sol.CD22-sol.CD12*sol.CD21)) * 3600
			cmd.Printf("image        %dx%d px, %.2f\"/px\n", sol.Width, sol.Height, scale)
			cmd.Printf("center       RA %.5f  Dec %.5f (J2000)\n", ra, dec)
			cmd.Printf("observed at  %s\n", sol.ObservedAt.UTC())

			if obs, err := opts.observer(); err == nil {
				dir := transform.FromCatalog(ra, dec, sol.ObservedAt, obs)
				cmd.Printf("horizontal   Az %.5f  Alt %.5f\n", dir.Az, dir.Alt)
			}
			return nil
		},
	}
}

func newSolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "solve <result1.json> <result2.json> <result3.json>",
		Short: "Estimate the mount axis from three plate-solve results",
		Long: `Estimate the mount's rotation axis and its pointing error relative to the
celestial pole from the three measurement images of an alignment run.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := opts.observer()
			if err != nil {
				return err
			}
			s, err := buildSession(obs, args, opts.logger())
			if err != nil {
				return err
			}
			axis, err := s.FindAxis()
			if err != nil {
				return err
			}
			perr, err := s.PointingError()
			if err != nil {
				return err
			}
			printAxis(cmd, axis, perr)
			return nil
		},
	}
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <result1.json> <result2.json> <result3.json> <followup.json>...",
		Short: "Replay refresh iterations against a solved axis",
		Long: `Solve the axis from the first three results, then process each remaining
file as a refresh image, printing the knob adjustment and the updated
pointing error for every step.`,
		Args: cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := opts.observer()
			if err != nil {
				return err
			}
			s, err := buildSession(obs, args[:3], opts.logger())
			if err != nil {
				return err
			}
			axis, err := s.FindAxis()
			if err != nil {
				return err
			}
			perr, err := s.PointingError()
			if err != nil {
				return err
			}
			printAxis(cmd, axis, perr)

			for _, path := range args[3:] {
				sol, err := wcs.ParseFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				mapper, err := wcs.NewTanMapper(sol)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				ra, dec, err := mapper.PixelToSky(sol.Center())
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				res, err := s.ProcessRefresh(ra, dec, sol.ObservedAt)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				cmd.Printf("\n%s\n", path)
				cmd.Printf("  adjustment  Az %+.2f'  Alt %+.2f'  (residual %.1f\")\n",
					res.AzAdjustment*60, res.AltAdjustment*60, res.Residual*3600)
				cmd.Printf("  error       Az %+.2f'  Alt %+.2f'\n", res.Error.Az*60, res.Error.Alt*60)
			}
			return nil
		},
	}
}

func newSimulateCmd(opts *options) *cobra.Command {
	var (
		axisAz   float64
		axisAlt  float64
		startAz  float64
		startAlt float64
		step     float64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the estimator against a synthetic alignment sequence",
		Long: `Sweep a simulated telescope around a known mount axis, feed the three
resulting directions to the estimator and compare the recovered axis with
the truth. Useful for sanity-checking site parameters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := opts.observer()
			if err != nil {
				return err
			}
			s := polaralign.NewSession(obs, 0, opts.logger())

			axis := rotations.FromAzAlt(axisAz, axisAlt)
			p0 := rotations.FromAzAlt(startAz, startAlt)
			base := time.Now().UTC()
			for i, rot := range []float64{0, step, 2 * step} {
				p := rotations.RotateAroundAxis(p0, axis, rot)
				az, alt := p.AzAlt()
				at := base.Add(time.Duration(i) * 4 * time.Minute)
				if err := s.AddSample(transform.FromHorizontal(az, alt, at, obs), at); err != nil {
					return err
				}
			}

			got, err := s.FindAxis()
			if err != nil {
				return err
			}
			perr, err := s.PointingError()
			if err != nil {
				return err
			}
			cmd.Printf("true axis    Az %.5f  Alt %.5f\n", axisAz, axisAlt)
			printAxis(cmd, got, perr)
			cmd.Printf("recovery     off by %.3f\"\n",
				math.Hypot(got.Az-axisAz, got.Alt-axisAlt)*3600)
			return nil
		},
	}

	cmd.Flags().Float64Var(&axisAz, "axis-az", 0.5, "true axis azimuth in degrees")
	cmd.Flags().Float64Var(&axisAlt, "axis-alt", 49.5, "true axis altitude in degrees")
	cmd.Flags().Float64Var(&startAz, "start-az", 90, "first sample azimuth in degrees")
	cmd.Flags().Float64Var(&startAlt, "start-alt", 30, "first sample altitude in degrees")
	cmd.Flags().Float64Var(&step, "step", 30, "RA rotation between samples in degrees")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("padiag v1.0.0")
		},
	}
}

func buildSession(obs transform.Observer, paths []string, logger *slog.Logger) (*polaralign.Session, error) {
	s := polaralign.NewSession(obs, 0, logger)
	for _, path := range paths {
		sol, err := wcs.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		mapper, err := wcs.NewTanMapper(sol)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := s.AddSampleFromMapper(mapper, sol.Center()); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return s, nil
}

func printAxis(cmd *cobra.Command, axis polaralign.AxisEstimate, perr polaralign.PointingError) {
	cmd.Printf("mount axis   Az %.5f  Alt %.5f\n", axis.Az, axis.Alt)
	cmd.Printf("error        Az %+.2f'  Alt %+.2f'  (total %.2f')\n",
		perr.Az*60, perr.Alt*60, math.Hypot(perr.Az, perr.Alt)*60)
	if perr.Az != 0 || perr.Alt != 0 {
		cmd.Printf("correction   move azimuth %s, altitude %s\n",
			direction(perr.Az, "west", "east"), direction(perr.Alt, "down", "up"))
	}
}

// direction names the knob direction that cancels a positive or negative
// error component.
func direction(err float64, pos, neg string) string {
	if err >= 0 {
		return pos
	}
	return neg
}
