// Copyright 2019 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race
// +build race

package homa

func init() {
	// keep the free lists small under the race detector so that
	// use-after-release bugs surface as fresh allocations instead of
	// silently recycled objects.
	PoolCapacity = 16
}
