// Package dispatch implements the job offer engine: eligibility snapshots,
// the offer lifecycle, first-accept-wins acceptance and the escalation
// sweeper. Consistency relies on store transactions, never on process
// memory, so several instances may share one store.
package dispatch
