package status

import (
	"testing"

	"github.com/stretchr/testify/require"

	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

func TestTransitionLegalPaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from Status
		to   Status
	}{
		{NotRun, Queued},
		{Succeeded, Queued},
		{Failed, Queued},
		{Cancelled, Queued},
		{Queued, Running},
		{Queued, Failed},
		{Queued, NotRun},
		{Running, Succeeded},
		{Running, Failed},
		{Running, Cancelled},
	}

	for _, tc := range cases {
		got, err := Transition("load", tc.from, tc.to)
		require.NoError(t, err, "%s -> %s", tc.from, tc.to)
		require.Equal(t, tc.to, got)
	}
}

func TestTransitionRejectsIllegalPaths(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from Status
		to   Status
	}{
		{NotRun, Running},
		{NotRun, Succeeded},
		{Queued, Succeeded},
		{Queued, Cancelled},
		{Running, Queued},
		{Running, NotRun},
		{Succeeded, Running},
		{Failed, Succeeded},
		{Cancelled, Running},
	}

	for _, tc := range cases {
		got, err := Transition("load", tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		require.Equal(t, tc.from, got, "status must not move on rejection")

		var transErr *streamerrors.IllegalTransitionError
		require.ErrorAs(t, err, &transErr)
		require.Equal(t, string(tc.from), transErr.From)
		require.Equal(t, string(tc.to), transErr.To)
	}
}

func TestDerivePipelineStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		blocks []Status
		want   Status
	}{
		{"running wins while any block is active", []Status{Succeeded, Running, Failed}, Running},
		{"queued counts as active", []Status{Queued, Succeeded}, Running},
		{"failed once nothing is active", []Status{Succeeded, Failed}, Failed},
		{"all succeeded", []Status{Succeeded, Succeeded}, Succeeded},
		{"cancelled wins over partial success", []Status{Succeeded, Cancelled}, Cancelled},
		{"failed wins over cancelled", []Status{Failed, Cancelled}, Failed},
		{"empty target set", nil, NotRun},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Derive(tc.blocks))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, Succeeded.IsTerminal())
	require.True(t, Failed.IsTerminal())
	require.True(t, Cancelled.IsTerminal())
	require.False(t, NotRun.IsTerminal())
	require.False(t, Queued.IsTerminal())
	require.False(t, Running.IsTerminal())
}
