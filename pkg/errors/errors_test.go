package errors

import (
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCycleErrorNamesParticipants(t *testing.T) {
	t.Parallel()

	err := NewCycleError("export", "load", []string{"load", "clean", "export", "load"})

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, "export", cycleErr.From)
	require.Equal(t, "load", cycleErr.To)
	require.Contains(t, err.Error(), "load -> clean -> export -> load")
}

func TestHasDependentsErrorListsDependents(t *testing.T) {
	t.Parallel()

	err := NewHasDependentsError("load", []string{"clean", "export"})

	var depErr *HasDependentsError
	require.ErrorAs(t, err, &depErr)
	require.Equal(t, []string{"clean", "export"}, depErr.Dependents)
	require.Contains(t, err.Error(), "clean, export")
}

func TestNotFoundErrorCarriesFullKey(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("demo", "load", "df")

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	require.Equal(t, "demo", nfErr.PipelineID)
	require.Equal(t, "load", nfErr.BlockID)
	require.Equal(t, "df", nfErr.Variable)
}

func TestUnresolvedDependencyErrorNamesUpstream(t *testing.T) {
	t.Parallel()

	err := NewUnresolvedDependencyError("clean", "load", "df")

	var unresolved *UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, "load", unresolved.UpstreamID)
	require.Contains(t, err.Error(), `upstream "load"`)
}

func TestUserCodeErrorFormatsKindAndMessage(t *testing.T) {
	t.Parallel()

	err := NewUserCodeError("clean", "ZeroDivisionError", "division by zero", "traceback...")

	var userErr *UserCodeError
	require.ErrorAs(t, err, &userErr)
	require.Equal(t, "ZeroDivisionError", userErr.Kind)
	require.Equal(t, "traceback...", userErr.Trace)
	require.Contains(t, err.Error(), "ZeroDivisionError: division by zero")
}

func TestRuntimeInfrastructureErrorWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := stdErrors.New("interpreter not found")
	err := NewRuntimeInfrastructureError("load", underlying)

	var infraErr *RuntimeInfrastructureError
	require.ErrorAs(t, err, &infraErr)
	require.True(t, stdErrors.Is(err, underlying))
	require.Contains(t, err.Error(), "interpreter not found")
}

func TestIllegalTransitionErrorFormatsStates(t *testing.T) {
	t.Parallel()

	err := NewIllegalTransitionError("load", "succeeded", "running")

	var transErr *IllegalTransitionError
	require.ErrorAs(t, err, &transErr)
	require.Equal(t, "succeeded", transErr.From)
	require.Equal(t, "running", transErr.To)
}
