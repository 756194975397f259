// Package timeline parses serialized session checkpoints and groups them into
// a year/month/day hierarchy for display.
//
// Grouping is online: checkpoints are inserted one at a time into a root
// bucket and a finer bucket is only materialized when two entries share a
// time field below their parent's granularity, so the tree stays as shallow
// as the data allows. Buckets live in an arena addressed by NodeID.
// Checkpoints whose timestamp cannot be parsed stay at the root in arrival
// order.
package timeline
