// Package message defines the envelope every component of the orchestrator
// exchanges: data, control and RPC messages, their code spaces and priorities,
// and the priority queue the consumer loop drains.
//
// Messages are immutable values. Priority only affects how soon a queued
// message is processed: the queue drains High before Medium before Low and is
// FIFO inside a priority. ACKs are sent Low so they are processed after the
// data and control messages emitted before them.
package message
