// Package channel implements the client side of one AMQP 0-9-1 channel:
// a single-goroutine actor that owns method classification, FIFO RPC
// correlation, the flow/closing admission gate, server-event fan-out and
// publisher-confirm sequence bookkeeping.
//
// A Channel never opens a network connection itself; it is handed a
// Transport (NetworkTransport for a real connection, DirectTransport for
// in-process use and tests) and driven purely through Call, Cast, Close
// and Deliver. Everything else — dialing, reconnecting, topology
// declaration — lives one layer up, in the root package.
package channel
