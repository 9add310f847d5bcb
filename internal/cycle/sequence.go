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

package cycle

import cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"

// Sequence yields successive valid cycle points spaced by a fixed interval,
// optionally bounded by a start and/or final point.
type Sequence struct {
	// Anchor is any point known to lie on the sequence.
	Anchor Point

	// Period is the recurrence interval between successive points. A null
	// period is degenerate and rejected at construction.
	Period Interval

	// Start, if non-nil, is the earliest point this sequence may produce.
	Start Point

	// Final, if non-nil, is the latest point this sequence may produce.
	Final Point

	name string
}

// NewSequence constructs a sequence, validating that its period is not
// null (a null period would make NextPoint spin forever without advancing).
func NewSequence(name string, anchor Point, period Interval, start, final Point) (*Sequence, error) {
	if period.IsNull() {
		return nil, &cylcerrors.SequenceDegenerateError{Sequence: name, Point: anchor.String()}
	}
	return &Sequence{Anchor: anchor, Period: period, Start: start, Final: final, name: name}, nil
}

// FirstPoint returns the first point on the sequence at or after start.
// This is the bootstrap case compute_runahead needs when the pool is
// completely empty: the runahead base points come from each sequence's
// first point, not from any in-pool task.
func (s *Sequence) FirstPoint(start Point) (Point, bool) {
	if s.Start != nil && s.Start.Compare(start) > 0 {
		start = s.Start
	}

	p := s.Anchor
	// Walk the anchor to be <= start first, in case the anchor is ahead of
	// the requested start point.
	for p.Compare(start) > 0 {
		prev := p.Add(s.Period.Negate())
		if prev.Compare(p) >= 0 {
			// Negation did not move the point backward: degenerate period.
			return nil, false
		}
		p = prev
	}
	for p.Compare(start) < 0 {
		next := p.Add(s.Period)
		if next.Compare(p) <= 0 {
			return nil, false
		}
		p = next
	}
	if s.Final != nil && p.Compare(s.Final) > 0 {
		return nil, false
	}
	return p, true
}

// NextPoint returns the next valid point strictly after p, or false if the
// sequence has no such point (exhausted against Final). A p that is not
// aligned to the sequence is accepted: NextPoint advances from the nearest
// aligned point >= p.
func (s *Sequence) NextPoint(after Point) (Point, bool) {
	start := after
	first, ok := s.FirstPoint(start)
	if !ok {
		return nil, false
	}
	next := first
	if next.Compare(after) <= 0 {
		advanced := next.Add(s.Period)
		if advanced.Compare(next) <= 0 {
			return nil, false
		}
		next = advanced
	}
	if s.Final != nil && next.Compare(s.Final) > 0 {
		return nil, false
	}
	return next, true
}

// Name returns the sequence's configured name (used in error messages).
func (s *Sequence) Name() string { return s.name }
