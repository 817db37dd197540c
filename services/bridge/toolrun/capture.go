// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolrun

import (
	"bytes"
	"sync"
)

// TruncationMarker is appended to captured output that exceeded its cap.
const TruncationMarker = "\n[output truncated]"

// CappedBuffer is an io.Writer that keeps at most Max bytes.
//
// Writes past the cap are discarded but reported as fully written so the
// child process never sees a short write.
//
// Thread Safety: Safe for concurrent use.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
	discarded int64
}

// NewCappedBuffer creates a buffer holding at most max bytes.
// A max of zero or less means unlimited.
func NewCappedBuffer(max int) *CappedBuffer {
	return &CappedBuffer{max: max}
}

// Write implements io.Writer.
func (c *CappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(p)
	if c.max <= 0 {
		c.buf.Write(p)
		return n, nil
	}

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		c.discarded += int64(n)
		return n, nil
	}
	if n > remaining {
		c.truncated = true
		c.discarded += int64(n - remaining)
		c.buf.Write(p[:remaining])
		return n, nil
	}
	c.buf.Write(p)
	return n, nil
}

// Bytes returns a copy of the captured bytes without the marker.
func (c *CappedBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// String returns the captured text, with TruncationMarker appended when
// output was dropped.
func (c *CappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.truncated {
		return c.buf.String() + TruncationMarker
	}
	return c.buf.String()
}

// Truncated reports whether any output was discarded.
func (c *CappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// Discarded returns the number of bytes dropped past the cap.
func (c *CappedBuffer) Discarded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}
