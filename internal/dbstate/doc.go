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

// Package dbstate implements read-only queries against a workflow's public
// database for external status-checking tools: the workflow-state query a
// remote "cylc workflow-state" caller runs, the cycle-point/DB-format
// reconciliation that query needs, and the bounded-retry poller commands
// like "cylc__job_poll" build on top of it.
package dbstate
