// Package signalsource feeds external signals into the engine.
//
// Two sources implement engine.SignalSource:
//
//   - Poller asks the provider for recent replies and relationship changes
//     of every active sending identity and maps them to prospects.
//   - AMQPSource consumes signal events pushed by a webhook relay through a
//     RabbitMQ queue.
//
// Both produce model.SignalEvent values whose IDs are content hashes, so an
// observation seen by both sources is applied once.
package signalsource
