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

// Package flow implements flow-number allocation, flow metadata, and the
// ALL/NEW/NONE flow option grammar.
package flow

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel flow tokens accepted on the CLI flow option grammar.
const (
	All  = "all"
	New  = "new"
	None = "none"
)

// Nums is an unordered set of flow numbers. The Go idiom for a set is a
// map to struct{}; cylc-flow's own flow_nums is a Python set with the same
// shape.
type Nums map[int]struct{}

// NewNums builds a Nums set from the given numbers.
func NewNums(nums ...int) Nums {
	s := make(Nums, len(nums))
	for _, n := range nums {
		s[n] = struct{}{}
	}
	return s
}

// Contains reports whether n is a member.
func (s Nums) Contains(n int) bool {
	_, ok := s[n]
	return ok
}

// Union returns a new set containing every member of both s and other.
func (s Nums) Union(other Nums) Nums {
	out := make(Nums, len(s)+len(other))
	for n := range s {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// Intersects reports whether s and other share at least one member.
func (s Nums) Intersects(other Nums) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for n := range small {
		if big.Contains(n) {
			return true
		}
	}
	return false
}

// Equal reports whether s and other contain exactly the same numbers.
func (s Nums) Equal(other Nums) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// sorted returns the set's members in ascending order.
func (s Nums) sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Slice returns the set's members as a sorted []int, for callers (DAO
// writers, restart loaders) that need an ordinary slice rather than a set.
func (s Nums) Slice() []int {
	return s.sorted()
}

// Stringify renders the set as cylc-flow's flow_mgr.stringify_flow_nums
// does: a comma-joined, sorted list of the member numbers.
func (s Nums) Stringify() string {
	nums := s.sorted()
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// ReprFlowNums renders the set for display, suppressing the bare default
// flow {1} unless full is true — matches flow_mgr.py's repr_flow_nums.
func (s Nums) ReprFlowNums(full bool) string {
	if !full && len(s) == 1 && s.Contains(1) {
		return ""
	}
	return fmt.Sprintf("{%s}", s.Stringify())
}

// Record is an immutable flow record once allocated: {flow_num,
// description, start_time}.
type Record struct {
	Num         int
	Description string
	StartTime   time.Time
}

// Recorder is the persistence contract FlowMgr needs: staging an insert
// into workflow_flows. internal/db's Manager implements this.
type Recorder interface {
	PutInsertWorkflowFlows(num int, description string, startTime time.Time)
}

// Mgr allocates flow numbers, records flow metadata, and implements the
// all/new/none/specific flow semantics.
type Mgr struct {
	db      Recorder
	utc     bool
	counter int
	flows   map[int]Record

	Log *slog.Logger
}

// NewMgr constructs a flow manager. utc controls whether StartTime is
// recorded in UTC (matching the workflow's configured UTC mode).
func NewMgr(db Recorder, utc bool, log *slog.Logger) *Mgr {
	return &Mgr{db: db, utc: utc, flows: make(map[int]Record), Log: log}
}

func (m *Mgr) now() time.Time {
	if m.utc {
		return time.Now().UTC()
	}
	return time.Now()
}

// GetFlow allocates or validates a flow number.
//
// If flowNum is nil, the counter is incremented, skipping any numbers
// already recorded, and the new number is allocated. If flowNum is
// supplied and already known, the description is ignored (a warning is
// logged if one was given). If supplied and new, the flow is recorded with
// the given description (or "no description" if empty) and staged for
// insertion.
func (m *Mgr) GetFlow(flowNum *int, meta string) int {
	if flowNum == nil {
		n := m.counter + 1
		for {
			if _, used := m.flows[n]; !used {
				break
			}
			n++
		}
		m.counter = n
		return m.recordNew(n, meta)
	}

	n := *flowNum
	if rec, known := m.flows[n]; known {
		if meta != "" && m.Log != nil {
			m.Log.Warn("flow already recorded, ignoring new description",
				slog.Int("flow", n), slog.String("existing_description", rec.Description))
		}
		return n
	}
	if n > m.counter {
		m.counter = n
	}
	return m.recordNew(n, meta)
}

func (m *Mgr) recordNew(n int, meta string) int {
	description := meta
	if description == "" {
		description = "no description"
	}
	rec := Record{Num: n, Description: description, StartTime: m.now()}
	m.flows[n] = rec
	if m.db != nil {
		m.db.PutInsertWorkflowFlows(rec.Num, rec.Description, rec.StartTime)
	}
	m.log(rec)
	return n
}

func (m *Mgr) log(rec Record) {
	if m.Log == nil {
		return
	}
	m.Log.Info("new flow",
		slog.Int("flow", rec.Num),
		slog.String("description", rec.Description))
}

// CLIToFlowNums translates the --flow CLI option's tokens into a concrete
// set of flow numbers: [none] -> ∅; [new] -> {GetFlow(meta)}; otherwise
// each token is parsed as an integer and passed to GetFlow.
func (m *Mgr) CLIToFlowNums(tokens []string, meta string) (Nums, error) {
	if len(tokens) == 1 && tokens[0] == None {
		return Nums{}, nil
	}
	if len(tokens) == 1 && tokens[0] == New {
		return NewNums(m.GetFlow(nil, meta)), nil
	}

	out := make(Nums, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("flow option %q is not a valid flow number, %q, or %q", tok, New, None)
		}
		fn := n
		out[m.GetFlow(&fn, meta)] = struct{}{}
	}
	return out, nil
}

// LoadFromDB seeds the allocation counter from the maximum flow number
// already recorded in the primary DB, and loads the metadata for the given
// subset of flow numbers so later lookups (description warnings) see them
// as already-known.
func (m *Mgr) LoadFromDB(records []Record) {
	for _, rec := range records {
		m.flows[rec.Num] = rec
		if rec.Num > m.counter {
			m.counter = rec.Num
		}
	}
}

// NewUUID returns a fresh workflow UUID, recorded once in workflow_params
// at start. Grounded on the teacher's use of google/uuid for run
// identifiers.
func NewUUID() string {
	return uuid.NewString()
}
