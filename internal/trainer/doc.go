// Package trainer defines the trainable-unit contract invoked by execution
// units, the registry that maps model kinds to trainer factories, and a
// simulator implementation used when no real accelerator-backed trainer is
// wired in.
package trainer
