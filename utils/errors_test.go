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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPanicf(t *testing.T) {
	defer func() {
		err := Recovered(recover())
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrDimensionMismatch))
		require.False(t, errors.Is(err, ErrConfiguration))
		require.Equal(t, "dimension mismatch: vector has 3 values, expected 4", err.Error())
	}()
	Panicf(ErrDimensionMismatch, "vector has %v values, expected %v", 3, 4)
}

func TestRecovered(t *testing.T) {
	require.NoError(t, Recovered(nil))
	err := fmt.Errorf("wrapped: %w", ErrUninitialized)
	require.Equal(t, err, Recovered(err))
	require.EqualError(t, Recovered("plain message"), "plain message")
	require.EqualError(t, Recovered(42), "42")
}
