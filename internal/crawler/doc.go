// Package crawler defines the vocabulary shared by the job-hunting agent:
// the closed enums for threat levels, capabilities, strategies, failure kinds
// and dedup verdicts, the fetch and record types, and the small interfaces
// the agent's collaborators satisfy.
package crawler
