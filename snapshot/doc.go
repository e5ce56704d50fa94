// Package snapshot persists a point-in-time copy of every registry so
// startup only replays the journal written after it.
package snapshot
