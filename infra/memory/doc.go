// Package memory provides typed object reuse for hot paths such as
// journal framing, where a buffer per command would otherwise be
// allocated and dropped.
package memory
