// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"sort"

	"github.com/cylc/cylc-scheduler/internal/config"
	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/flow"
)

// basePoint returns the earliest point with an unfinished task instance
// across both pools, or, if there is none, the earliest first-valid-
// point of any task definition at or after the configured initial point —
// grounded on task_pool.py's compute_runahead base-point selection.
func (p *Pool) basePoint() (cycle.Point, bool) {
	var base cycle.Point
	found := false
	for _, t := range p.AllTasks() {
		if t.Status.IsFinal() {
			continue
		}
		if !found || t.Point.Compare(base) < 0 {
			base = t.Point
			found = true
		}
	}
	if found {
		return base, true
	}

	for _, def := range p.AllDefs {
		fp, ok := def.FirstPoint(p.Cfg.InitialPoint)
		if !ok {
			continue
		}
		if !found || fp.Compare(base) < 0 {
			base = fp
			found = true
		}
	}
	return base, found
}

// sequencePoints collects the distinct points at or after base, up to and
// including the (count)th, across every sequence reachable from AllDefs —
// used by the count_cycles runahead policy.
func (p *Pool) sequencePoints(base cycle.Point, count int) []cycle.Point {
	seen := map[string]cycle.Point{}
	for _, def := range p.AllDefs {
		for _, seq := range def.Sequences() {
			point, ok := seq.FirstPoint(base)
			for i := 0; ok && i < count; i++ {
				if point.Compare(base) >= 0 {
					seen[point.String()] = point
				}
				point, ok = seq.NextPoint(point)
			}
		}
	}
	points := make([]cycle.Point, 0, len(seen))
	for _, pt := range seen {
		points = append(points, pt)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Compare(points[j]) < 0 })
	return points
}

// ComputeRunahead recomputes the runahead limit point from the current
// pool state and configuration, per spec.md §4.5.2. The limit is
// recomputed on every call: there is no "base point unchanged" early exit,
// so force has no effect.
func (p *Pool) ComputeRunahead(force bool) {
	base, ok := p.basePoint()
	if !ok {
		return
	}

	var limit cycle.Point
	switch p.Cfg.Runahead.Kind {
	case config.RunaheadByCount:
		points := p.sequencePoints(base, p.Cfg.Runahead.Count+1)
		if len(points) == 0 {
			limit = base
		} else {
			idx := p.Cfg.Runahead.Count
			if idx >= len(points) {
				idx = len(points) - 1
			}
			limit = points[idx]
		}
	case config.RunaheadByInterval:
		if p.Cfg.Runahead.Interval != nil {
			limit = base.Add(p.Cfg.Runahead.Interval)
		} else {
			limit = base
		}
	default:
		limit = base
	}

	if p.maxFutureOffset != nil {
		extended := limit.Add(p.maxFutureOffset)
		if extended.Compare(limit) > 0 {
			limit = extended
		}
	}

	if p.Cfg.StopPoint != nil && limit.Compare(p.Cfg.StopPoint) > 0 {
		limit = p.Cfg.StopPoint
	}

	p.RunaheadLimitPoint = limit
	_ = force
}

// ReleaseRunaheadTasks clears the IsRunahead flag on every main-pool task
// at or before the runahead limit, queues it for release, and spawns the
// next parentless instance of each such task up to the (possibly advanced)
// limit — task_pool.py's release_runahead_tasks.
func (p *Pool) ReleaseRunaheadTasks() {
	if p.RunaheadLimitPoint == nil {
		return
	}
	for _, t := range p.MainTasks() {
		if !t.IsRunahead {
			continue
		}
		if t.Point.Compare(p.RunaheadLimitPoint) > 0 {
			continue
		}
		t.IsRunahead = false
		p.Queues.Push(t)
		p.SpawnToRHLimit(t.Def, t.Point, t.FlowNums)
	}
}

// SpawnToRHLimit spawns successive parentless instances of def, starting
// after point, until the next instance would fall beyond the runahead
// limit — it also spawns exactly one instance beyond the limit (marked
// runahead) so the pool always has a lookahead placeholder, matching
// task_pool.py's spawn_to_rh_limit.
func (p *Pool) SpawnToRHLimit(def TaskDef, after cycle.Point, flowNums flow.Nums) {
	if !def.IsParentless(after) {
		return
	}
	next, ok := def.NextPoint(after)
	for ok {
		beyondLimit := p.RunaheadLimitPoint != nil && next.Compare(p.RunaheadLimitPoint) > 0
		itask := p.SpawnTask(def, next, flowNums, false, false, false)
		if itask != nil {
			if beyondLimit {
				itask.IsRunahead = true
			}
			p.AddToPool(itask, true)
			if !beyondLimit {
				p.Queues.Push(itask)
			}
		}
		if beyondLimit {
			return
		}
		next, ok = def.NextPoint(next)
	}
}
