// Package report aggregates core statistics into a point-in-time view:
// per-endpoint health, queue occupancy, and dispatch totals. Reports are
// derived state with no invariants of their own and marshal to JSON for
// export.
package report
