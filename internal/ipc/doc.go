// Package ipc carries control datagrams between ray-control and ray-daemon
// over loopback UDP.
//
// An Endpoint owns one socket. A dedicated listener goroutine reads and
// decodes datagrams and hands them to a single consumer through Messages, so
// handlers run one at a time on the consumer's loop. Delivery is best effort:
// nothing is retried or acknowledged at this layer.
package ipc
