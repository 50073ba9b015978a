// Package bus implements the publish/subscribe event bus connecting the
// fabric and its collaborators.
//
// Events carry a dot-namespaced type string ("node.created",
// "invoice.created") that the bus does not interpret. Handlers register
// against an exact type or against the wildcard "*".
//
// Delivery is at-least-once: when any handler of an event fails and is still
// under its retry budget, the whole event is republished and every handler,
// including ones that already succeeded, runs again. Handlers MUST therefore
// be idempotent. Dequeue order is FIFO, but workers run concurrently, so
// completion order across events is not guaranteed.
package bus
