// Package search provides the coarse-to-fine 2D grid minimization used by
// the polar-alignment refresh and pixel-error solvers. Both solvers sample a
// square grid of candidate (y, z) rotation pairs at a fixed resolution, keep
// the lowest-cost candidate, and refine around it with tighter passes; this
// package holds the single shared implementation so the passes differ only
// in their range/resolution parameters.
package search

import (
	"math"
	"sync"
)

// Objective returns the cost of a candidate (y, z) pair. Lower is better.
// Candidates the objective cannot evaluate return +Inf. The objective must
// be safe for concurrent calls; the grid may be evaluated in parallel.
type Objective func(y, z float64) float64

// Pass describes one grid pass: candidates are sampled at Step intervals in
// [center-Range, center+Range] along both dimensions, endpoints included.
type Pass struct {
	Range float64
	Step  float64
}

// Result is the best candidate found by a grid pass.
type Result struct {
	Y, Z float64
	Cost float64
}

// Grid runs grid minimizations, fanning rows of the grid out to a fixed
// number of goroutines when Workers > 1. A zero Grid evaluates serially.
type Grid struct {
	Workers int
}

// Minimize samples the grid of one Pass centered on (centerY, centerZ) and
// returns the best candidate. Ties keep the earliest candidate in scan order
// (y outer, z inner), so parallel and serial evaluation pick the same cell.
func (g Grid) Minimize(obj Objective, centerY, centerZ float64, p Pass) Result {
	rng := math.Abs(p.Range)
	ys := gridValues(centerY, rng, p.Step)
	zs := gridValues(centerZ, rng, p.Step)

	if g.Workers <= 1 || len(ys) < 2 {
		best := Result{Cost: math.Inf(1)}
		for _, y := range ys {
			r := minimizeRow(obj, y, zs)
			if r.Cost < best.Cost {
				best = r
			}
		}
		return best
	}

	// Each worker claims rows off a channel; per-row minima land in a
	// pre-sized slice so no ordering is lost.
	rows := make([]Result, len(ys))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < g.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rows[i] = minimizeRow(obj, ys[i], zs)
			}
		}()
	}
	for i := range ys {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	best := Result{Cost: math.Inf(1)}
	for _, r := range rows {
		if r.Cost < best.Cost {
			best = r
		}
	}
	return best
}

// Refine runs successive passes, each centered on the previous best.
// The first pass is centered on (startY, startZ).
func (g Grid) Refine(obj Objective, startY, startZ float64, passes []Pass) Result {
	best := Result{Y: startY, Z: startZ, Cost: math.Inf(1)}
	for _, p := range passes {
		best = g.Minimize(obj, best.Y, best.Z, p)
	}
	return best
}

// minimizeRow scans one row (fixed y) across all z candidates.
func minimizeRow(obj Objective, y float64, zs []float64) Result {
	best := Result{Y: y, Cost: math.Inf(1)}
	for _, z := range zs {
		c := obj(y, z)
		if c < best.Cost {
			best.Z = z
			best.Cost = c
		}
	}
	return best
}

// gridValues returns center-rng, center-rng+step, ..., center+rng.
// A small epsilon keeps the far endpoint included despite accumulation error.
func gridValues(center, rng, step float64) []float64 {
	if step <= 0 {
		return []float64{center}
	}
	n := int(2*rng/step+1e-9) + 1
	vals := make([]float64, 0, n)
	for i := 0; ; i++ {
		v := center - rng + float64(i)*step
		if v > center+rng+step*1e-6 {
			break
		}
		vals = append(vals, v)
	}
	return vals
}
