// Package engine provides the asynchronous job execution engine. It accepts
// validated submissions, detects duplicate jobs, runs each accepted job in a
// bounded worker pool, and moves progress events from running trainers to the
// store and to connected observers.
package engine
