// Package mqtt provides the resilient MQTT transport client for Hearth Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - A bounded inbound queue bridging paho's network goroutine into
//     the consuming service (drop-newest backpressure, FIFO delivery)
//   - Topic subscriptions, re-issued automatically after every
//     reconnect (clean-session mode does not preserve them)
//   - Fire-and-forget publishing with asynchronous error accounting
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// Hearth uses MQTT as the message bus connecting all home agents.
// The paho library runs its own network goroutine and invokes
// callbacks from it; those callbacks never touch consumer state
// directly. Instead each inbound publication is handed off to a
// bounded channel read by the single consumer:
//
//	broker ↔ paho network goroutine → bounded queue → NextMessage()
//
// When the queue is full the newest message is dropped and the drop
// counter incremented. Staying alive and responsive beats unbounded
// memory growth from a misbehaving publisher or a stalled consumer.
//
// # Failure semantics
//
// Connect fails after the connect timeout; everything after that is
// absorbed. Broker blips are retried by paho with bounded exponential
// backoff and surface only through Stats counters.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Subscribe(client.Topics().All(), 1)
//	for {
//	    msg, err := client.NextMessage(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    handle(msg)
//	}
package mqtt
