// Package chat implements the message delivery core: the Repository
// contract over {inbound stream, broadcast send, private send, dispose},
// its mesh-backed implementation, an in-memory fake for tests, and the
// Controller that owns one repository/receipt-service pairing per group.
//
// The repository is deliberately optimistic: a send completes as soon as
// the packet leaves for the transport, and the returned message sits in the
// Sent state until receipts move it forward.
package chat
