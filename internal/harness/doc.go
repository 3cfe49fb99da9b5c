// Package harness runs funnel scenarios against a real engine and checks
// the resulting audit trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  require_hold: false
//	  qualify: true
//	  ats: ok            # ok | fail
//	  policy:
//	    allowed_channels: [sms]
//	    max_questions: 2
//	setup:
//	  - action: Funnel.createJob
//	    args: { title: Picker }
//	flow:
//	  - invoke: Funnel.intake
//	    args: { name: Ana, phone: "+15550100", jobId: J1 }
//	    expect:
//	      case: Success
//	      result: { status: contacted }
//	assertions:
//	  - type: trace_contains
//	    action: candidate.created
//	    args: { candidateId: C1 }
//	  - type: final_state
//	    table: candidates
//	    where: { id: C1 }
//	    expect: { status: contacted }
//
// # Actions
//
// Funnel.createJob, Funnel.intake, Funnel.outreach, Funnel.consent,
// Funnel.qualify, Funnel.propose, Funnel.confirm, Funnel.inbound and
// Outbound.send. Candidate operations take the candidate in args.id.
//
// # Assertion Types
//
//   - trace_contains: an audit event with the action and a payload
//     containing args
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: exactly one row of candidates, jobs or holds matches
//     where, and it contains expect
//   - chain_valid: the audit chain verifies (and has count events when
//     count is set)
//
// # Deterministic Testing
//
// Every run uses an in-memory SQLite store, sequential ids (J1, C1, E1,
// A1), a stepping clock and a fixed schedule slot, so traces are identical
// across runs and can be compared with golden files.
package harness
