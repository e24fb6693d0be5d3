// Package database provides the TimescaleDB connection pool and schema used
// by the tick recorder.
//
// Ticks land in a single table keyed by (security, ts). When the timescaledb
// extension is installed the table is converted to a hypertable on ts.
package database
