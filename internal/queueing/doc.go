// Package queueing is a provider-agnostic queue client with at-least-once
// delivery.
//
// A Provider binds a queue's identity and policy (visibility timeout and
// time-to-live) to a Backend and manufactures Clients. A Client sends
// messages and receives them as Envelopes. Receiving a message hides it from
// other consumers until its deadline; the Envelope must then be committed
// (message removed) or abandoned (message made visible again). If neither
// happens before the deadline the backend makes the message visible again on
// its own, so an unacknowledged message is always redelivered.
//
// All coordination is done by the backend. Clients keep no state between
// calls and are safe for concurrent use.
package queueing
