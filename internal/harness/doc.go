// Package harness runs sync scenarios against the real engine and compares
// their traces with golden files.
//
// A scenario seeds an in-memory source collection and a recording target,
// runs a list of steps and checks the result. Each step is one of: a sync
// pass, a document put, a deletion stub, a silent removal, a source swap or
// an injected target failure.
//
// # Scenario Format
//
//	name: incremental_deletion_stub
//	description: "What this scenario validates"
//	source:
//	  replica_id: sales
//	  instance_id: sales@host-a
//	  documents:
//	    - identity: A
//	      sequence: 1
//	      sequence_time: 2024-05-01T09:00:00Z
//	      fields: {form: Memo}
//	target:
//	  data: full
//	steps:
//	  - sync:
//	      filter: 'form: "Memo"'
//	      expect: {mode: full, matched: 1}
//	  - delete: A
//	  - sync:
//	      filter: 'form: "Memo"'
//	      expect: {mode: incremental, deleted: 1}
//	assertions:
//	  - type: trace_order
//	    calls: [ApplyMatching A, ApplyDeleted A]
//	  - type: final_state
//	    identities: []
//
// # Assertion Types
//
//   - trace_contains: a target call appears in the trace
//   - trace_order: calls appear in the listed order
//   - trace_count: a call appears exactly N times
//   - final_state: the target holds exactly these identities or sequences
//   - log_contains: a message reached the target's log sink
//
// # Determinism
//
// The clock starts at the scenario's start time (2024-06-01T00:00:00Z when
// unset) and advances one minute before every step. It does not move within
// a step, so a pass run in step n commits the watermark start+n minutes.
// Sessions are numbered session-1, session-2 and so on. Only sync steps add
// events to the trace, so identical scenarios yield byte-identical goldens.
package harness
