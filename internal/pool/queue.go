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

import "strings"

// DefaultQueueName is the queue every task belongs to unless the workflow
// graph assigns it to a named queue (spec.md §4.5.5).
const DefaultQueueName = "default"

// queue holds one named queue's membership, active-task limit, and the
// FIFO of task identities waiting for release.
type queue struct {
	name    string
	members map[string]struct{} // task names assigned to this queue
	limit   int                 // 0 means unlimited
	waiting []string            // identities queued, release order preserved
}

// QueueManager implements the independent per-queue release policy spec.md
// §4.5.5 describes: the workflow graph assigns each task name to exactly
// one named queue (or the default queue), each queue caps the number of
// tasks it will let be active at once, and ReleaseTasks walks every queue
// independently, releasing from its FIFO until its limit (if any) is
// reached. There is no upstream Python source for this component in the
// retrieval pack (task_queues/independent.py was not present) — it is
// built from the specification's textual description alone.
type QueueManager struct {
	queues       map[string]*queue
	taskToQueue  map[string]string // task name -> queue name
}

// NewQueueManager returns a manager with only the default (unlimited)
// queue configured.
func NewQueueManager() *QueueManager {
	return &QueueManager{
		queues: map[string]*queue{
			DefaultQueueName: {name: DefaultQueueName, members: make(map[string]struct{})},
		},
		taskToQueue: make(map[string]string),
	}
}

// Configure (re)defines the queue set: membership is a queue name -> list
// of task names assigned to it, limits is a queue name -> active-task cap
// (0 or absent means unlimited). Any task name not named in membership
// stays on, or is assigned to, the default queue. Called at startup and
// again by reload when the graph configuration changes.
func (qm *QueueManager) Configure(membership map[string][]string, limits map[string]int) {
	newQueues := map[string]*queue{
		DefaultQueueName: {name: DefaultQueueName, members: make(map[string]struct{})},
	}
	newTaskToQueue := make(map[string]string)

	for qname, names := range membership {
		q, ok := newQueues[qname]
		if !ok {
			q = &queue{name: qname, members: make(map[string]struct{})}
			newQueues[qname] = q
		}
		for _, n := range names {
			q.members[n] = struct{}{}
			newTaskToQueue[n] = qname
		}
	}
	for qname, limit := range limits {
		q, ok := newQueues[qname]
		if !ok {
			q = &queue{name: qname, members: make(map[string]struct{})}
			newQueues[qname] = q
		}
		q.limit = limit
	}

	// Preserve each surviving queue's in-flight FIFO across reconfiguration.
	for qname, q := range qm.queues {
		if nq, ok := newQueues[qname]; ok {
			nq.waiting = q.waiting
		}
	}

	qm.queues = newQueues
	qm.taskToQueue = newTaskToQueue
}

// queueNameFor returns the queue a task name belongs to, defaulting to
// DefaultQueueName.
func (qm *QueueManager) queueNameFor(taskName string) string {
	if qn, ok := qm.taskToQueue[taskName]; ok {
		return qn
	}
	return DefaultQueueName
}

// Push marks itask as ready to run and enqueues it on its assigned queue,
// unless it is already queued (spec.md's IsQueued flag guards duplicate
// pushes).
func (qm *QueueManager) Push(itask *Proxy) {
	if itask.IsQueued {
		return
	}
	qname := qm.queueNameFor(itask.Def.Name())
	q, ok := qm.queues[qname]
	if !ok {
		q = &queue{name: qname, members: make(map[string]struct{})}
		qm.queues[qname] = q
	}
	q.waiting = append(q.waiting, itask.Identity())
	itask.IsQueued = true
}

// Remove drops id from whichever queue's FIFO it is waiting in (used when
// a queued task is removed or held before release).
func (qm *QueueManager) Remove(id string) {
	for _, q := range qm.queues {
		for i, w := range q.waiting {
			if w == id {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				return
			}
		}
	}
}

// ReleaseTasks walks every queue independently and returns the identities
// to release this pass: for a limited queue, release from the front of its
// FIFO until the queue's active total plus released reaches its limit; an
// unlimited queue releases everything waiting. activeCounts supplies the
// number of already-active (preparing/submitted/running, including
// waiting_on_job_prep) instances per task name; each queue sums the
// counts of the names assigned to it.
func (qm *QueueManager) ReleaseTasks(activeCounts map[string]int) []string {
	perQueue := make(map[string]int, len(qm.queues))
	for name, n := range activeCounts {
		perQueue[qm.queueNameFor(name)] += n
	}

	var released []string
	for qname, q := range qm.queues {
		if len(q.waiting) == 0 {
			continue
		}
		if q.limit <= 0 {
			released = append(released, q.waiting...)
			q.waiting = nil
			continue
		}
		active := perQueue[qname]
		n := q.limit - active
		if n <= 0 {
			continue
		}
		if n > len(q.waiting) {
			n = len(q.waiting)
		}
		released = append(released, q.waiting[:n]...)
		q.waiting = q.waiting[n:]
	}
	return released
}

// Waiting reports how many identities are queued across all queues
// (used by is_stalled-style diagnostics).
func (qm *QueueManager) Waiting() int {
	n := 0
	for _, q := range qm.queues {
		n += len(q.waiting)
	}
	return n
}

// ReleaseQueuedTasks asks the queue manager which queued tasks may move
// into the submission pipeline without breaching any queue's limit, and
// flips their flags accordingly: is_queued off, waiting_on_job_prep on.
// Held tasks stay parked on their queue. In Cylc-7 back-compat mode each
// released task also pre-emptively spawns waiting children on each of its
// required outputs. Returns the released proxies in release order.
func (p *Pool) ReleaseQueuedTasks(activeCounts map[string]int) []*Proxy {
	var out []*Proxy
	for _, id := range p.Queues.ReleaseTasks(activeCounts) {
		parts := strings.SplitN(id, ".", 2)
		if len(parts) != 2 {
			continue
		}
		t, ok := p.GetTaskByID(parts[0], parts[1])
		if !ok {
			continue
		}
		if t.IsHeld {
			t.IsQueued = false
			p.Queues.Push(t)
			continue
		}
		t.IsQueued = false
		t.WaitingOnJobPrep = true
		p.stageStateUpdate(t)
		if p.Cfg.Cylc7BackCompat {
			p.SpawnOnAllOutputs(t, false)
		}
		out = append(out, t)
	}
	return out
}
