/*
Package events provides an in-memory event broker for Shoal's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting node
lifecycle events to interested subscribers. It supports asynchronous event
delivery with per-subscriber buffering, enabling loose coupling between the
node's boot machinery, the placement-group layer, and observers such as the
admin API and test harnesses.

# Architecture

Shoal's event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Map Events:                                 │          │
	│  │    - map.advanced                            │          │
	│  │                                              │          │
	│  │  Node Events:                                │          │
	│  │    - node.state_changed                      │          │
	│  │    - node.booted                             │          │
	│  │    - node.restarting                         │          │
	│  │                                              │          │
	│  │  Placement Group Events:                     │          │
	│  │    - pg.created, pg.loaded                   │          │
	│  │    - pg.advanced, pg.create_dropped          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier
  - Type: Event type (map.advanced, pg.created, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Types Catalog

EventMapAdvanced:
  - Published when: the node's visible cluster map moves to a new epoch
  - Metadata: epoch

EventNodeStateChanged:
  - Published when: the boot state machine transitions
  - Metadata: from, to

EventNodeBooted:
  - Published when: the node activates (marked up at its bound addresses)
  - Metadata: epoch

EventNodeRestarting:
  - Published when: the node drops out of the active state and re-enters
    the boot sequence
  - Metadata: epoch, reason

EventPGCreated / EventPGLoaded:
  - Published when: a placement group is created by request or rebuilt
    from disk at startup
  - Metadata: pg, epoch

EventPGAdvanced:
  - Published when: a placement group finishes consuming a new map epoch
  - Metadata: pg, epoch

EventPGCreateDropped:
  - Published when: a stale creation request is discarded without effect
  - Metadata: pg, reason

# Usage

Creating and Starting Broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing Events:

	broker.Publish(&events.Event{
		Type:    events.EventPGCreated,
		Message: "placement group 1.a created",
		Metadata: map[string]string{
			"pg":    "1.a",
			"epoch": "17",
		},
	})

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No topic-based filtering (all events broadcast)

Delivery is advisory: nothing in the boot or map-ingestion paths depends on
an event being observed. Critical state lives in the store and the node's
own structures; the broker exists for observers.

# See Also

  - pkg/node for the publishers
  - pkg/api for surfacing node status to operators
*/
package events
