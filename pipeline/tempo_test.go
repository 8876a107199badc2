// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTempoAdjusterRejectsOutOfRangeRatio(t *testing.T) {
	_, err := NewTempoAdjuster(0.1, "cat", nil)
	require.ErrorIs(t, err, ErrTempoRatioOutOfRange)

	_, err = NewTempoAdjuster(3.0, "cat", nil)
	require.ErrorIs(t, err, ErrTempoRatioOutOfRange)
}

func TestTempoAdjusterPassthroughViaCat(t *testing.T) {
	adj, err := NewTempoAdjuster(1.0, "cat", nil)
	require.NoError(t, err)

	out, err := adj.Process([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestTempoAdjusterSubstitutesRatioArg(t *testing.T) {
	adj, err := NewTempoAdjuster(1.5, "echo", []string{"{ratio}"})
	require.NoError(t, err)
	require.Equal(t, []string{"1.5"}, adj.args)
}
