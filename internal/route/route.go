// Package route orders a fixed set of stores into the shortest open path from
// a starting point.
//
// Up to ExactLimit stops are solved exactly by dynamic programming over
// subsets: best[mask][last] is the cheapest path from the start that visits
// exactly the stops in mask and ends at last. Larger inputs fall back to the
// nearest-neighbour heuristic. The choice depends only on the number of
// distinct stops, so identical input always yields the identical route.
package route

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"instockbackend/internal/geo"
)

const (
	DefaultExactLimit = 12
	// MaxExactLimit caps the DP table at 2^16 * 16 entries.
	MaxExactLimit = 16
)

var (
	ErrEmptySelection = errors.New("empty store selection")
	// ErrSolverTimeout is retryable: the same input will succeed given more time.
	ErrSolverTimeout = errors.New("route solver timed out")
)

type Strategy string

const (
	Exact           Strategy = "exact"
	NearestNeighbor Strategy = "nearest-neighbor"
)

// Stop is a store the route must visit.
type Stop struct {
	ID       string
	Location geo.Coordinates
}

// Route is a visiting order. The start point is implicit and not in Stops.
type Route struct {
	Stops    []string `json:"stops"`
	Distance float64  `json:"distance"`
	Strategy Strategy `json:"strategy"`
}

// Orderer computes routes under a fixed metric.
type Orderer struct {
	Metric     geo.Metric
	ExactLimit int
}

func NewOrderer(metric geo.Metric, exactLimit int) *Orderer {
	return &Orderer{Metric: metric, ExactLimit: exactLimit}
}

func (o *Orderer) metric() geo.Metric {
	if o.Metric == nil {
		return geo.Haversine
	}
	return o.Metric
}

func (o *Orderer) limit() int {
	switch {
	case o.ExactLimit <= 0:
		return DefaultExactLimit
	case o.ExactLimit > MaxExactLimit:
		return MaxExactLimit
	default:
		return o.ExactLimit
	}
}

// StrategyFor reports which algorithm Order uses for n distinct stops.
func (o *Orderer) StrategyFor(n int) Strategy {
	if n <= o.limit() {
		return Exact
	}
	return NearestNeighbor
}

// Order returns the shortest visiting order of stops starting from start.
// Stops repeated by ID are visited once. Ties are broken by stop ID.
func (o *Orderer) Order(ctx context.Context, start geo.Coordinates, stops []Stop) (Route, error) {
	stops = normalize(stops)
	if len(stops) == 0 {
		return Route{}, ErrEmptySelection
	}

	metric := o.metric()
	n := len(stops)
	fromStart := make([]float64, n)
	between := make([][]float64, n)
	for i := range stops {
		fromStart[i] = metric.Distance(start, stops[i].Location)
		between[i] = make([]float64, n)
		for j := range stops {
			if i != j {
				between[i][j] = metric.Distance(stops[i].Location, stops[j].Location)
			}
		}
	}

	var (
		order    []int
		distance float64
		err      error
	)
	strategy := o.StrategyFor(n)
	if strategy == Exact {
		order, distance, err = exact(ctx, fromStart, between)
		if err != nil {
			return Route{}, err
		}
	} else {
		order, distance = nearestNeighbor(fromStart, between)
	}

	ids := make([]string, n)
	for i, idx := range order {
		ids[i] = stops[idx].ID
	}
	return Route{Stops: ids, Distance: distance, Strategy: strategy}, nil
}

func normalize(stops []Stop) []Stop {
	seen := make(map[string]bool, len(stops))
	out := make([]Stop, 0, len(stops))
	for _, s := range stops {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func exact(ctx context.Context, fromStart []float64, between [][]float64) ([]int, float64, error) {
	n := len(fromStart)
	full := 1<<n - 1
	best := make([]float64, (full+1)*n)
	parent := make([]int8, (full+1)*n)
	for i := range best {
		best[i] = math.Inf(1)
		parent[i] = -1
	}
	for i := 0; i < n; i++ {
		best[(1<<i)*n+i] = fromStart[i]
	}

	for mask := 1; mask <= full; mask++ {
		if mask&0x3ff == 1 {
			if err := ctx.Err(); err != nil {
				return nil, 0, fmt.Errorf("%w after %d of %d subsets: %v", ErrSolverTimeout, mask-1, full, err)
			}
		}
		for last := 0; last < n; last++ {
			cost := best[mask*n+last]
			if mask&(1<<last) == 0 || math.IsInf(cost, 1) {
				continue
			}
			for next := 0; next < n; next++ {
				if mask&(1<<next) != 0 {
					continue
				}
				slot := (mask|1<<next)*n + next
				if c := cost + between[last][next]; c < best[slot] {
					best[slot] = c
					parent[slot] = int8(last)
				}
			}
		}
	}

	end, total := 0, math.Inf(1)
	for last := 0; last < n; last++ {
		if c := best[full*n+last]; c < total {
			end, total = last, c
		}
	}

	order := make([]int, n)
	mask := full
	for pos := n - 1; pos >= 0; pos-- {
		order[pos] = end
		prev := int(parent[mask*n+end])
		mask &^= 1 << end
		end = prev
	}
	return order, total, nil
}

func nearestNeighbor(fromStart []float64, between [][]float64) ([]int, float64) {
	n := len(fromStart)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	total := 0.0

	dist := fromStart
	for len(order) < n {
		next, nextDist := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if !visited[j] && dist[j] < nextDist {
				next, nextDist = j, dist[j]
			}
		}
		visited[next] = true
		order = append(order, next)
		total += nextDist
		dist = between[next]
	}
	return order, total
}
