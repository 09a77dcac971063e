// Package log wraps zerolog with the daemon's global logger and a few
// helpers for attaching common fields (component, username).
package log
