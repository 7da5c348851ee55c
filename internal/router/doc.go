// Package router is the dispatch core: it parses inbound frames, manages
// worker pools through control methods, correlates reply streams back to
// their callers, and converts every failure into a negative errno for the
// transport layer to surface.
package router
