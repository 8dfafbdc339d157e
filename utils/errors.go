// elnorm: a tool for normalizing microarray probe intensities.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elnorm/blob/master/LICENSE.txt>.

package utils

import (
	"errors"
	"fmt"
)

// The kinds of unrecoverable conditions detected by elnorm. Panics
// raised through Panicf carry an error that wraps one of these, so
// that errors.Is can be used on recovered values.
var (
	// ErrConfiguration reports invalid construction-time state, such
	// as duplicate probe ids in a probe order.
	ErrConfiguration = errors.New("configuration error")

	// ErrDimensionMismatch reports vectors or sketches of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUninitialized reports operations invoked before the state
	// they depend on exists.
	ErrUninitialized = errors.New("uninitialized state")

	// ErrNumericDegeneracy reports normalization results that violate
	// the non-negativity of intensities.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")

	// ErrOutOfRange reports invalid probe or dataset indices.
	ErrOutOfRange = errors.New("index out of range")
)

// Panicf is like log.Panicf, except that the value passed to panic
// is an error wrapping kind, and that nothing is logged. The main
// program reports recovered errors.
func Panicf(kind error, format string, v ...interface{}) {
	panic(fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, v...)))
}

// Recovered converts a value returned by recover into an error. It
// returns nil if r is nil.
func Recovered(r interface{}) error {
	switch x := r.(type) {
	case nil:
		return nil
	case error:
		return x
	default:
		return fmt.Errorf("%v", x)
	}
}
