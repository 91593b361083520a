/*
Package log provides structured logging for Shoal using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Configuration:
  - Level: debug/info/warn/error
  - Format: JSON (machines) or console (humans)
  - Output: stdout, file, or custom writer

Child Loggers:
  - WithComponent("mapcache"), WithComponent("node"), ...
  - WithNode(id): tags every line with the node slot ("node.3")
  - WithPG(id): tags every line with a placement-group id ("1.a")

# Usage

Initialize once in main:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Create component loggers in constructors and keep them on the struct:

	logger := log.WithComponent("mapgate")
	logger.Info().Uint64("epoch", uint64(e)).Msg("gate advanced")

Per-entity child loggers fan out from the component logger:

	pgLog := logger.With().Stringer("pg", pgid).Logger()

# Log Levels

  - debug: per-epoch advance steps, cache hits, waiter wakeups
  - info: state transitions, boot progress, map batch commits
  - warn: degraded conditions the daemon tolerates (old cluster release,
    missing placement flag, unrecognized collections)
  - error: dropped batches, failed sends, storage errors surfaced to callers
  - fatal: unusable data directory, identity mismatch, restore failures

# Conventions

Components used across the daemon: node, mapcache, mapgate, mapstore,
storage, pg, lifecycle, authority, transport, heartbeat, api, events.
Epoch fields log as uint64 "epoch"/"first"/"last"; node ids and pg ids log
through their Stringer forms.
*/
package log
