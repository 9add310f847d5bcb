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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	cfgpkg "github.com/cylc/cylc-scheduler/internal/config"
	"github.com/cylc/cylc-scheduler/internal/cycle"
	"github.com/cylc/cylc-scheduler/internal/flow"
)

// These tests walk the six literal scenarios named in spec.md §8, each
// built from fakeDef/newTestPool (pool_test.go) driven directly rather
// than through a scheduler loop, since job submission itself is an
// external collaborator (spec.md §1) — each scenario advances a task to
// its terminal status by hand, exactly as a job-runner callback would.

// chainDefs builds three parentless-at-A fakeDefs A=>B=>C: B requires
// A:succeeded, C requires B:succeeded, and A's "succeeded" output fans out
// to B, B's to C.
func chainDefs() (a, b, c *fakeDef) {
	a = newFakeDef("a")
	b = newFakeDef("b")
	c = newFakeDef("c")
	b.parentless = false
	c.parentless = false
	b.prereqs = func(point cycle.Point) []PrereqKey {
		return []PrereqKey{{Point: point, Name: "a", Output: OutputSucceeded}}
	}
	c.prereqs = func(point cycle.Point) []PrereqKey {
		return []PrereqKey{{Point: point, Name: "b", Output: OutputSucceeded}}
	}
	a.children = map[string][]Child{OutputSucceeded: {{Name: "b"}}}
	b.children = map[string][]Child{OutputSucceeded: {{Name: "c"}}}
	return a, b, c
}

// Scenario 1: Start; A.1 runs; A succeeds, spawning B.1; B succeeds,
// spawning C.1; C succeeds and the pool empties (spec.md §8 scenario 1).
func TestScenario_LinearChainDrainsPool(t *testing.T) {
	p := newTestPool(t)
	a, b, c := chainDefs()
	p.SetTaskDefs([]TaskDef{a, b, c})

	itA := p.SpawnTask(a, cycle.IntegerPoint(1), flow.NewNums(1), false, false, false)
	require.NotNil(t, itA)
	p.AddToPool(itA, true)
	_, inMain := p.getMain("a", "1")
	require.True(t, inMain, "A.1 has no prerequisites and must land in the main pool")

	itA.Status = StatusSucceeded
	p.SpawnOnOutput(itA, OutputSucceeded, false)

	itB, ok := p.GetTaskByID("b", "1")
	require.True(t, ok, "B.1 must have been spawned by A's succeeded output")
	require.True(t, itB.PrereqsSatisfied())

	itB.Status = StatusSucceeded
	p.SpawnOnOutput(itB, OutputSucceeded, false)

	itC, ok := p.GetTaskByID("c", "1")
	require.True(t, ok, "C.1 must have been spawned by B's succeeded output")

	itC.Status = StatusSucceeded
	p.SpawnOnOutput(itC, OutputSucceeded, false)

	require.Empty(t, p.AllTasks(), "pool must be empty once the whole chain has succeeded")
}

// Scenario 2: a runahead-by-count limit of 2 bounds the spawn window;
// finishing the oldest cycle advances the limit and releases the next one
// (spec.md §8 scenario 2).
func TestScenario_RunaheadBoundReleasesOnAdvance(t *testing.T) {
	p := newTestPool(t)
	p.Cfg.Runahead = cfgpkg.RunaheadConfig{Kind: cfgpkg.RunaheadByCount, Count: 1}
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	def := newFakeDef("a")
	p.SetTaskDefs([]TaskDef{def})

	p.ComputeRunahead(true)
	require.Equal(t, "2", p.RunaheadLimitPoint.String())

	it1 := p.SpawnTask(def, cycle.IntegerPoint(1), flow.NewNums(1), false, false, false)
	p.AddToPool(it1, true)
	it2 := p.SpawnTask(def, cycle.IntegerPoint(2), flow.NewNums(1), false, false, false)
	p.AddToPool(it2, true)
	it3 := p.SpawnTask(def, cycle.IntegerPoint(3), flow.NewNums(1), false, false, false)
	require.NotNil(t, it3)
	it3.IsRunahead = true
	p.AddToPool(it3, true)
	require.True(t, it3.IsRunahead, "point 3 lies beyond the runahead limit and must not be released yet")

	it1.Status = StatusSucceeded
	it1.Outputs.SetCompleted(OutputSucceeded, OutputSucceeded)
	p.RemoveIfComplete(it1)

	require.Equal(t, "3", p.RunaheadLimitPoint.String(), "finishing point 1 must advance the runahead limit")
	p.ReleaseRunaheadTasks()
	require.False(t, it3.IsRunahead, "point 3 is now within the advanced limit and must be released")
}

// Scenario 3: a manual trigger with --flow=new allocates a fresh flow
// number distinct from the task's original flow (spec.md §8 scenario 3).
func TestScenario_ManualTriggerNewFlow(t *testing.T) {
	p := newTestPool(t)
	def := newFakeDef("a")
	p.SetTaskDefs([]TaskDef{def})

	original := p.Flow.GetFlow(nil, "original flow")
	require.Equal(t, 1, original, "the workflow's first-ever flow allocation is flow 1")

	err := p.ForceTriggerTasks([]TaskDef{def}, []string{"1"}, ForceTriggerFlowOption{New: true}, false, "manual trigger")
	require.NoError(t, err)

	itask, ok := p.GetTaskByID("a", "1")
	require.True(t, ok)
	require.True(t, itask.IsManualSubmit)
	require.False(t, itask.FlowNums.Contains(1), "a --flow=new trigger must not reuse flow 1")
	require.Len(t, itask.FlowNums, 1, "a fresh new-flow trigger allocates exactly one flow number")
}

// Scenario 4: a flow-wait spawn of an already-recorded instance is
// resolved by merging the new flow into the existing proxy and replaying
// its completed outputs, rather than creating a second instance
// (spec.md §8 scenario 4, spec.md §4.5.3 step 3).
func TestScenario_FlowWaitMergeOnRendezvous(t *testing.T) {
	p := newTestPool(t)
	def := newFakeDef("a")
	p.SetTaskDefs([]TaskDef{def})
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	p.ComputeRunahead(true) // establishes RunaheadLimitPoint before the merge's SpawnToRHLimit call

	itask := NewProxy(def, cycle.IntegerPoint(1), flow.NewNums(1), 0)
	itask.FlowWait = true
	itask.Status = StatusSucceeded
	itask.Outputs.SetCompleted(OutputSucceeded, OutputSucceeded)
	p.AddToPool(itask, true)

	p.MergeFlows(itask, flow.NewNums(2))

	require.False(t, itask.FlowWait, "merging a new flow into a flow-wait task clears the flag")
	require.True(t, itask.FlowNums.Contains(1))
	require.True(t, itask.FlowNums.Contains(2))
}

// TestSpawnTask_FlowWaitMergeRequiresFlowOverlap guards the fix recorded in
// DESIGN.md: a previous flow_wait'd submission under an unrelated flow must
// not suppress a spawn in a different flow that shares no flow number with
// it (spec.md §4.5.3 step 3's "shares a flow number" condition).
func TestSpawnTask_FlowWaitMergeRequiresFlowOverlap(t *testing.T) {
	p := newTestPool(t)
	def := newFakeDef("a")

	p.DB.PutInsertTaskStates("a", "1", []int{7}, string(StatusWaiting), false, true)
	require.NoError(t, p.DB.ProcessQueuedOps(context.Background()))

	itask := p.SpawnTask(def, cycle.IntegerPoint(1), flow.NewNums(1), false, false, false)
	require.NotNil(t, itask, "flow 1 shares no flow number with the recorded flow-wait row (flow 7) and must spawn normally")
}

// TestSpawnTask_FlowWaitMergesOnOverlap is the positive counterpart: a
// previous flow_wait'd submission that does share a flow number is
// resolved by replaying its recorded outputs — its children spawn — rather
// than by re-running the task.
func TestSpawnTask_FlowWaitMergesOnOverlap(t *testing.T) {
	p := newTestPool(t)
	a, b, c := chainDefs()
	p.SetTaskDefs([]TaskDef{a, b, c})
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	p.ComputeRunahead(true)

	p.DB.PutInsertTaskStates("a", "1", []int{3}, string(StatusSucceeded), false, true)
	p.DB.PutInsertTaskOutputs("a", "1", []int{3})
	p.DB.PutUpdateTaskOutputs("1", "a", []int{3}, `{"succeeded":"succeeded"}`)
	require.NoError(t, p.DB.ProcessQueuedOps(context.Background()))

	itask := p.SpawnTask(a, cycle.IntegerPoint(1), flow.NewNums(3), false, false, false)
	require.Nil(t, itask, "a previous flow-wait row sharing flow 3 must resolve by replay, not a second run")

	itB, ok := p.GetTaskByID("b", "1")
	require.True(t, ok, "the flow-wait parent's recorded succeeded output must spawn B.1 on rendezvous")
	require.True(t, itB.FlowNums.Contains(3))
}

// Scenario 4's second act: A.1 ran flow-wait in flow 2; a later trigger in
// flow 1 merges rather than re-running, and A's children spawn carrying
// the union {1, 2} (spec.md §8 scenario 4).
func TestScenario_FlowWaitRendezvousViaTrigger(t *testing.T) {
	p := newTestPool(t)
	a, b, c := chainDefs()
	p.SetTaskDefs([]TaskDef{a, b, c})
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	p.ComputeRunahead(true)

	p.DB.PutInsertTaskStates("a", "1", []int{2}, string(StatusSucceeded), false, true)
	p.DB.PutInsertTaskOutputs("a", "1", []int{2})
	p.DB.PutUpdateTaskOutputs("1", "a", []int{2}, `{"succeeded":"succeeded"}`)
	require.NoError(t, p.DB.ProcessQueuedOps(context.Background()))

	itask := p.SpawnTask(a, cycle.IntegerPoint(1), flow.NewNums(1), true, true, false)
	require.Nil(t, itask, "a forced trigger of a recorded flow-wait instance resolves the rendezvous instead of re-running")

	itB, ok := p.GetTaskByID("b", "1")
	require.True(t, ok)
	require.True(t, itB.FlowNums.Contains(1), "the spawned child carries the triggering flow")
	require.True(t, itB.FlowNums.Contains(2), "the spawned child carries the waited flow too")
}

// Scenario 5: restart rewinds a preparing task back to waiting (the same
// submission is re-prepared on the new run) while every other status —
// including still-in-flight submitted/running jobs, which the job layer
// re-polls — reloads unchanged (spec.md §8 scenario 5).
func TestScenario_RestartRewindsPreparingOnly(t *testing.T) {
	require.Equal(t, StatusWaiting, rewindStatus(StatusPreparing))
	require.Equal(t, StatusRunning, rewindStatus(StatusRunning), "a running job may still be alive on its platform")
	require.Equal(t, StatusSubmitted, rewindStatus(StatusSubmitted))
	require.Equal(t, StatusFailed, rewindStatus(StatusFailed), "a terminal status passes through restart unchanged")
	require.Equal(t, StatusSucceeded, rewindStatus(StatusSucceeded))
}

// TestLoadFromPoint_SpawnsParentlessFirstInstance exercises the fresh-start
// bootstrap path (LoadFromPoint) fixed alongside StageSnapshot: a
// brand-new pool with no prior database state must spawn each parentless
// def's own first point, matching scenario 1's "Start; A.1 runs".
func TestLoadFromPoint_SpawnsParentlessFirstInstance(t *testing.T) {
	p := newTestPool(t)
	p.Cfg.Runahead = cfgpkg.RunaheadConfig{Kind: cfgpkg.RunaheadByCount, Count: 1}
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	def := newFakeDef("a")
	p.SetTaskDefs([]TaskDef{def})

	p.LoadFromPoint()

	itask, ok := p.GetTaskByID("a", "1")
	require.True(t, ok, "LoadFromPoint must spawn the def's own first point")
	require.True(t, itask.FlowNums.Contains(1), "the bootstrap allocates flow 1 as the original flow")
}

// Scenario 6 (incompatible DB version refusal) is exercised directly
// against internal/db's CheckCompatibility in internal/db's own test
// suite, since it is a property of the database schema version column
// rather than of the in-memory pool.

// TestSetHoldPoint_HoldsBeyondPointOnly pins the hold-point direction: a
// workflow hold point holds tasks beyond it, not at or before it.
func TestSetHoldPoint_HoldsBeyondPointOnly(t *testing.T) {
	p := newTestPool(t)
	def := newFakeDef("a")
	at := NewProxy(def, cycle.IntegerPoint(2), flow.NewNums(1), 0)
	beyond := NewProxy(def, cycle.IntegerPoint(3), flow.NewNums(1), 0)
	p.AddToPool(at, true)
	p.AddToPool(beyond, true)

	p.SetHoldPoint(cycle.IntegerPoint(2))

	require.False(t, at.IsHeld, "a task at the hold point keeps running")
	require.True(t, beyond.IsHeld, "a task beyond the hold point is held")

	spawned := p.SpawnTask(def, cycle.IntegerPoint(4), flow.NewNums(1), false, false, false)
	require.NotNil(t, spawned)
	require.True(t, spawned.IsHeld, "a freshly spawned task beyond the hold point is held at spawn")
}

// TestSpawnOnOutput_FlowWaitParentSuppressesChildren pins the flow-wait
// semantics: a completed flow-wait task must not spawn its children until
// its flow merges with another.
func TestSpawnOnOutput_FlowWaitParentSuppressesChildren(t *testing.T) {
	p := newTestPool(t)
	a, b, c := chainDefs()
	p.SetTaskDefs([]TaskDef{a, b, c})

	itA := p.SpawnTask(a, cycle.IntegerPoint(1), flow.NewNums(2), false, false, true)
	require.NotNil(t, itA)
	require.True(t, itA.FlowWait)
	p.AddToPool(itA, true)

	itA.Status = StatusSucceeded
	p.SpawnOnOutput(itA, OutputSucceeded, false)

	_, spawnedB := p.GetTaskByID("b", "1")
	require.False(t, spawnedB, "a flow-wait parent must not spawn children on completion")
}

// TestSpawnOnOutput_NoFlowParentSuppressesChildren: a task outside all
// flows may run but its completions never spawn new children.
func TestSpawnOnOutput_NoFlowParentSuppressesChildren(t *testing.T) {
	p := newTestPool(t)
	a, b, c := chainDefs()
	p.SetTaskDefs([]TaskDef{a, b, c})

	itA := NewProxy(a, cycle.IntegerPoint(1), flow.Nums{}, 0)
	p.AddToPool(itA, true)

	itA.Status = StatusSucceeded
	p.SpawnOnOutput(itA, OutputSucceeded, false)

	_, spawnedB := p.GetTaskByID("b", "1")
	require.False(t, spawnedB, "a no-flow task's completions never spawn children")
}

// TestSetStopPoint_MarksWaitingTasksBeyondAsRunahead pins the stop-point
// lowering behaviour: waiting tasks past the new stop point become
// runahead-limited, and the runahead limit clamps to the stop point.
func TestSetStopPoint_MarksWaitingTasksBeyondAsRunahead(t *testing.T) {
	p := newTestPool(t)
	p.Cfg.InitialPoint = cycle.IntegerPoint(1)
	def := newFakeDef("a")
	p.SetTaskDefs([]TaskDef{def})
	p.ComputeRunahead(true)

	before := NewProxy(def, cycle.IntegerPoint(1), flow.NewNums(1), 0)
	beyond := NewProxy(def, cycle.IntegerPoint(3), flow.NewNums(1), 0)
	p.AddToPool(before, true)
	p.AddToPool(beyond, true)

	inFlight := NewProxy(def, cycle.IntegerPoint(4), flow.NewNums(1), 1)
	inFlight.Status = StatusRunning
	p.AddToPool(inFlight, true)

	p.SetStopPoint(cycle.IntegerPoint(2))

	require.False(t, before.IsRunahead)
	require.True(t, beyond.IsRunahead, "a waiting task past the lowered stop point is marked runahead")
	require.Equal(t, StatusRunning, inFlight.Status, "an in-flight job past the new stop point is left running")
	require.False(t, inFlight.IsRunahead)
	require.True(t, p.RunaheadLimitPoint.Compare(cycle.IntegerPoint(2)) <= 0,
		"lowering the stop point clamps the runahead limit")
}

// TestReloadTaskDefs covers the reload contract: active orphans keep
// running with child spawning suppressed, inactive orphans are removed,
// surviving tasks are rebuilt against the new definitions, and ready tasks
// are re-queued against the rebuilt queue manager.
func TestReloadTaskDefs(t *testing.T) {
	p := newTestPool(t)
	oldDef := newFakeDef("gone")
	keptDef := newFakeDef("kept")
	p.SetTaskDefs([]TaskDef{oldDef, keptDef})

	activeOrphan := NewProxy(oldDef, cycle.IntegerPoint(1), flow.NewNums(1), 1)
	activeOrphan.Status = StatusRunning
	p.AddToPool(activeOrphan, true)

	idleOrphan := NewProxy(oldDef, cycle.IntegerPoint(2), flow.NewNums(1), 0)
	p.AddToPool(idleOrphan, true)

	survivor := NewProxy(keptDef, cycle.IntegerPoint(1), flow.NewNums(1), 0)
	p.AddToPool(survivor, true)

	newKept := newFakeDef("kept")
	p.ReloadTaskDefs([]TaskDef{newKept})

	_, activeStill := p.GetTaskByID("gone", "1")
	require.True(t, activeStill, "an active orphan keeps running through a reload")
	require.NotNil(t, activeOrphan.GraphChildrenOverride)
	require.Empty(t, activeOrphan.GraphChildren(OutputSucceeded),
		"an active orphan must not spawn further children")

	_, idleStill := p.GetTaskByID("gone", "2")
	require.False(t, idleStill, "a non-active orphan is removed on reload")

	replaced, ok := p.GetTaskByID("kept", "1")
	require.True(t, ok)
	require.Same(t, TaskDef(newKept), replaced.Def, "surviving tasks are rebuilt against the new definition")
	require.True(t, replaced.IsQueued, "ready tasks are re-queued against the rebuilt queues")
}
