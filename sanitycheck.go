// Copyright 2019 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race
// +build race

package homa

// sanity check the configuration
func init() {
	if ReceiveBatchSize < 1 {
		panic("ReceiveBatchSize < 1")
	}
	if UnscheduledPacketLimit < 1 {
		panic("UnscheduledPacketLimit < 1")
	}
	if int(UnscheduledPacketLimit) > MaxMessagePackets {
		panic("UnscheduledPacketLimit > MaxMessagePackets")
	}
	if PoolCapacity < 1 {
		panic("PoolCapacity < 1")
	}
	if CommonHeaderSize >= DataHeaderSize {
		panic("CommonHeaderSize >= DataHeaderSize")
	}
	if MessageHeaderSize != AddressRawSize {
		panic("MessageHeaderSize != AddressRawSize")
	}
}
