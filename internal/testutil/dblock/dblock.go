// Package dblock serializes integration tests that share one Postgres database across
// test binaries. go test runs packages in parallel, so each package that touches the
// database holds the lock for the duration of its run.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45433"

// Acquire blocks until the lock is free and returns its release func.
// VALUECORE_TEST_DB_LOCK overrides the loopback address used as the lock.
func Acquire() func() {
	addr := os.Getenv("VALUECORE_TEST_DB_LOCK")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
