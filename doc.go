// Copyright 2019 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package homa implements a message-oriented request/reply transport layered
over an unreliable, datagram-oriented packet driver.

Large application messages are broken into fixed-size packets, reassembled
on the receiver, and surfaced to application code as operations. An operation
(Op) pairs an inbound message with an outbound message and advances through a
small lifecycle observable through its State.

A Transport owns a Sender, a Receiver, and a Scheduler. One or more polling
goroutines call Poll (or Run) to drain the driver, dispatch packets by
opcode, drive op state machines, and reclaim finished operations.
Application goroutines build requests with AllocOp and Append, transmit them
with SendRequest, and serve inbound requests popped with ReceiveOp by
appending a reply and calling SendReply.

Bandwidth use is coordinated with explicit grants: a sender may transmit a
limited number of packets unscheduled, then waits for GRANT packets emitted
by the receiving side's Scheduler before sending the rest. Responses
acknowledge requests implicitly; chained server-to-server requests are
acknowledged with explicit DONE packets.

The packet driver is pluggable through the Driver interface. The drivers
directory provides an in-process fake network for testing, a UDP driver, and
a WebSocket tunneling driver.
*/
package homa
