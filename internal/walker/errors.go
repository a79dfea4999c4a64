// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package walker

// ErrNoLivestack is returned when the innermost frame address lies
// below the low bound of the captured VM stack range (or the range's
// high bound is below its low bound), meaning the target is not
// currently executing interpreted code. It is the canonical retry
// signal for a polling caller.
type ErrNoLivestack struct{}

func (ErrNoLivestack) Error() string {
	return "target is not currently executing interpreted code"
}
