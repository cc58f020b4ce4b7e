// Package deposit implements the safe deposit pattern: a task is submitted to
// every node of a group, each node works on it in the background and keeps the
// result in a drawer of its Box, and the submitter polls the nodes for their
// withdrawals until all have answered or the withdrawal timeout passes.
//
// The node side is the Box plus the Deposit message, which every node that
// takes part must be able to decode and whose transport context must
// implement BoxHolder. The submitting side is the Agent, one per node group,
// and the Controller, which runs several agents at once.
//
// A round is bounded twice: every exchange by the response timeout and the
// whole collection by the withdrawal timeout. Whatever has been withdrawn when
// the round ends is returned; the rest is reported missing.
package deposit
