package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/star/polargo/internal/metrics"
	"github.com/star/polargo/internal/polaralign"
	"github.com/star/polargo/internal/store"
	"github.com/star/polargo/internal/stream"
	"github.com/star/polargo/internal/transform"
	"github.com/star/polargo/internal/wcs"
)

// ControllerOptions configures a Controller. Store and Hub are optional;
// a nil Store disables run persistence and a nil Hub disables streaming.
type ControllerOptions struct {
	Workers             int
	MaxPixelSearchRange float64
	Store               *store.Store
	Hub                 *stream.Hub
	Logger              *slog.Logger
}

// Controller owns the alignment session. All operations serialize on its
// mutex: the session itself is not safe for concurrent use, and the solve
// and refresh workflows are inherently sequential anyway.
type Controller struct {
	mu      sync.Mutex
	session *polaralign.Session
	runID   int64

	store  *store.Store
	hub    *stream.Hub
	logger *slog.Logger
}

// NewController creates a Controller for the given observing site.
func NewController(obs transform.Observer, opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	session := polaralign.NewSession(obs, opts.Workers, opts.Logger)
	if opts.MaxPixelSearchRange > 0 {
		session.SetMaxPixelSearchRange(opts.MaxPixelSearchRange)
	}
	return &Controller{
		session: session,
		store:   opts.Store,
		hub:     opts.Hub,
		logger:  opts.Logger,
	}
}

// IngestResult reports what a solve result was used for.
type IngestResult struct {
	Action      string                     `json:"action"` // "sample", "solve" or "refresh"
	SampleCount int                        `json:"sample_count"`
	Axis        *polaralign.AxisEstimate   `json:"axis,omitempty"`
	Error       *polaralign.PointingError  `json:"error,omitempty"`
	Refresh     *polaralign.RefreshResult  `json:"refresh,omitempty"`
}

// Ingest routes one plate-solve result through the session workflow: the
// first three results become measurement samples (the third one triggers
// the axis solve), every later result is a refresh against the solved axis.
func (c *Controller) Ingest(ctx context.Context, sol *wcs.Solution) (*IngestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.session.Axis(); ok {
		res, err := c.refreshLocked(ctx, sol)
		if err != nil {
			return nil, err
		}
		return &IngestResult{
			Action:      "refresh",
			SampleCount: c.session.SampleCount(),
			Refresh:     res,
		}, nil
	}

	if err := c.addSampleLocked(ctx, sol); err != nil {
		return nil, err
	}
	if c.session.SampleCount() < 3 {
		return &IngestResult{Action: "sample", SampleCount: c.session.SampleCount()}, nil
	}

	axis, perr, err := c.solveLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		Action:      "solve",
		SampleCount: c.session.SampleCount(),
		Axis:        &axis,
		Error:       &perr,
	}, nil
}

// Reset discards the session state and closes out any open run.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.Reset()
	c.runID = 0
	c.logger.Info("session reset")
	if c.hub != nil {
		c.hub.Broadcast(resetEvent{Type: "reset"})
	}
}

// Direction is a sky direction in both equatorial and horizontal coordinates
// as carried in API responses.
type Direction struct {
	RAJ2000  float64 `json:"ra_j2000"`
	DecJ2000 float64 `json:"dec_j2000"`
	Az       float64 `json:"az"`
	Alt      float64 `json:"alt"`
}

func toDirection(d transform.SkyDirection) Direction {
	return Direction{RAJ2000: d.RAJ2000, DecJ2000: d.DecJ2000, Az: d.Az, Alt: d.Alt}
}

// SolveResult is the outcome of an explicit solve: the axis estimate, its
// pointing error and the directions the mount should be taken to by the
// adjustment knobs, both the full correction and the altitude-only variant.
type SolveResult struct {
	Axis     polaralign.AxisEstimate  `json:"axis"`
	Error    polaralign.PointingError `json:"error"`
	Solution Direction                `json:"solution"`
	AltOnly  Direction                `json:"alt_only_solution"`
}

// Solve estimates the axis from the accumulated samples.
func (c *Controller) Solve(ctx context.Context) (*SolveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	axis, perr, err := c.solveLocked(ctx)
	if err != nil {
		return nil, err
	}
	solution, altOnly, err := c.session.SolutionDirections()
	if err != nil {
		return nil, err
	}
	return &SolveResult{
		Axis:     axis,
		Error:    perr,
		Solution: toDirection(solution),
		AltOnly:  toDirection(altOnly),
	}, nil
}

// Refresh runs one refresh iteration against the solved axis.
func (c *Controller) Refresh(ctx context.Context, sol *wcs.Solution) (*polaralign.RefreshResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx, sol)
}

// CorrectedPixel computes the target pixel for the star at p in the solved
// image, optionally applying only the altitude correction.
func (c *Controller) CorrectedPixel(sol *wcs.Solution, p polaralign.Pixel, altOnly bool) (polaralign.Pixel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mapper, err := wcs.NewTanMapper(sol)
	if err != nil {
		return polaralign.Pixel{}, err
	}
	corrected, err := c.session.FindCorrectedPixel(mapper, p, altOnly)
	if err != nil {
		metrics.PixelQuery("corrected", "error")
		return polaralign.Pixel{}, err
	}
	metrics.PixelQuery("corrected", "ok")
	return corrected, nil
}

// PixelError computes the remaining alignment error from the star's current
// pixel p and its target pixel target.
func (c *Controller) PixelError(sol *wcs.Solution, p, target polaralign.Pixel) (polaralign.PointingError, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mapper, err := wcs.NewTanMapper(sol)
	if err != nil {
		return polaralign.PointingError{}, err
	}
	perr, err := c.session.PixelError(mapper, p, target)
	if err != nil {
		metrics.PixelQuery("error", "error")
		return polaralign.PointingError{}, err
	}
	metrics.PixelQuery("error", "ok")
	return perr, nil
}

// State is the session snapshot served by GET /api/v1/session and sent as
// the stream metadata message.
type State struct {
	Type      string                    `json:"type"`
	Samples   int                       `json:"samples"`
	Axis      *polaralign.AxisEstimate  `json:"axis,omitempty"`
	Error     *polaralign.PointingError `json:"error,omitempty"`
	Latitude  float64                   `json:"latitude"`
	Longitude float64                   `json:"longitude"`
	RunID     int64                     `json:"run_id,omitempty"`
}

// State returns the current session snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	obs := c.session.Observer()
	st := State{
		Type:      "metadata",
		Samples:   c.session.SampleCount(),
		Latitude:  obs.LatDeg,
		Longitude: obs.LonDeg,
		RunID:     c.runID,
	}
	if axis, ok := c.session.Axis(); ok {
		st.Axis = &axis
		if perr, err := c.session.PointingError(); err == nil {
			st.Error = &perr
		}
	}
	return st
}

// Ready reports whether the controller's dependencies can serve traffic.
func (c *Controller) Ready(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// RecentRuns lists past runs, newest first.
func (c *Controller) RecentRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.RecentRuns(ctx, limit)
}

// RunDetail fetches one run and its refresh history.
func (c *Controller) RunDetail(ctx context.Context, id int64) (*store.Run, []store.Refresh, error) {
	if c.store == nil {
		return nil, nil, store.ErrNotFound
	}
	run, err := c.store.Run(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	refreshes, err := c.store.Refreshes(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return run, refreshes, nil
}

func (c *Controller) addSampleLocked(ctx context.Context, sol *wcs.Solution) error {
	mapper, err := wcs.NewTanMapper(sol)
	if err != nil {
		return err
	}
	if err := c.session.AddSampleFromMapper(mapper, sol.Center()); err != nil {
		return err
	}
	metrics.SampleAdded()

	if c.runID == 0 && c.store != nil {
		obs := c.session.Observer()
		id, err := c.store.CreateRun(ctx, sol.ObservedAt, obs.LatDeg, obs.LonDeg)
		if err != nil {
			c.logger.Warn("could not record run start", "error", err)
		} else {
			c.runID = id
		}
	}

	if c.hub != nil {
		samples := c.session.Samples()
		last := samples[len(samples)-1]
		c.hub.Broadcast(sampleEvent{
			Type:  "sample",
			Index: len(samples) - 1,
			Az:    last.Direction.Az,
			Alt:   last.Direction.Alt,
			At:    last.Time.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil
}

func (c *Controller) solveLocked(ctx context.Context) (polaralign.AxisEstimate, polaralign.PointingError, error) {
	axis, err := c.session.FindAxis()
	if err != nil {
		metrics.AxisSolve("error")
		return polaralign.AxisEstimate{}, polaralign.PointingError{}, err
	}
	perr, err := c.session.PointingError()
	if err != nil {
		metrics.AxisSolve("error")
		return polaralign.AxisEstimate{}, polaralign.PointingError{}, err
	}
	metrics.AxisSolve("ok")

	if c.store != nil && c.runID != 0 {
		samples := c.session.Samples()
		finishedAt := samples[len(samples)-1].Time
		if err := c.store.FinishRun(ctx, c.runID, finishedAt, axis, perr); err != nil {
			c.logger.Warn("could not record run result", "run_id", c.runID, "error", err)
		}
	}
	if c.hub != nil {
		c.hub.Broadcast(solveEvent{
			Type:     "solve",
			AxisAz:   axis.Az,
			AxisAlt:  axis.Alt,
			AzError:  perr.Az,
			AltError: perr.Alt,
		})
	}
	return axis, perr, nil
}

func (c *Controller) refreshLocked(ctx context.Context, sol *wcs.Solution) (*polaralign.RefreshResult, error) {
	mapper, err := wcs.NewTanMapper(sol)
	if err != nil {
		return nil, err
	}
	ra, dec, err := mapper.PixelToSky(sol.Center())
	if err != nil {
		return nil, err
	}
	res, err := c.session.ProcessRefresh(ra, dec, sol.ObservedAt)
	if err != nil {
		metrics.Refresh("error", 0)
		return nil, err
	}
	metrics.Refresh("ok", res.Residual)

	if c.store != nil && c.runID != 0 {
		if err := c.store.AddRefresh(ctx, c.runID, sol.ObservedAt, res); err != nil {
			c.logger.Warn("could not record refresh", "run_id", c.runID, "error", err)
		}
	}
	if c.hub != nil {
		c.hub.Broadcast(refreshEvent{
			Type:          "refresh",
			AzError:       res.Error.Az,
			AltError:      res.Error.Alt,
			AzAdjustment:  res.AzAdjustment,
			AltAdjustment: res.AltAdjustment,
			Residual:      res.Residual,
		})
	}
	return &res, nil
}

// Stream event payloads.

type resetEvent struct {
	Type string `json:"type"`
}

type sampleEvent struct {
	Type  string  `json:"type"`
	Index int     `json:"index"`
	Az    float64 `json:"az"`
	Alt   float64 `json:"alt"`
	At    string  `json:"at"`
}

type solveEvent struct {
	Type     string  `json:"type"`
	AxisAz   float64 `json:"axis_az"`
	AxisAlt  float64 `json:"axis_alt"`
	AzError  float64 `json:"az_error"`
	AltError float64 `json:"alt_error"`
}

type refreshEvent struct {
	Type          string  `json:"type"`
	AzError       float64 `json:"az_error"`
	AltError      float64 `json:"alt_error"`
	AzAdjustment  float64 `json:"az_adjustment"`
	AltAdjustment float64 `json:"alt_adjustment"`
	Residual      float64 `json:"residual"`
}
