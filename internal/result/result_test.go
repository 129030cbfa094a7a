package result

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cadbridge/internal/errors"
)

func TestSuccessUnwrap(t *testing.T) {
	r := Success("ok")
	require.False(t, r.IsFailure())

	v, err := r.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = r.UnwrapError()
	require.Error(t, err)
	assert.True(t, apperrors.IsContractViolation(err))
}

func TestFailureUnwrap(t *testing.T) {
	r := Fail[int](401, "no current session")
	require.True(t, r.IsFailure())

	_, err := r.Unwrap()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrContractViolation))

	f, err := r.UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, 401, f.StatusCode)
	assert.Equal(t, "no current session", f.Message)
	assert.Equal(t, "401: no current session", f.Error())
}

func TestFailureKind(t *testing.T) {
	transport := Failure{Message: "connection refused"}
	assert.False(t, transport.HasStatus())
	assert.Equal(t, apperrors.KindTransport, transport.Kind())

	httpFailure := Failure{StatusCode: 500, Message: "Internal Server Error"}
	assert.Equal(t, apperrors.KindHTTP, httpFailure.Kind())

	auth := FailWith[struct{}](401, "no current session", &apperrors.AuthRequiredError{Message: "no current session"})
	f, err := auth.UnwrapError()
	require.NoError(t, err)
	assert.Equal(t, apperrors.KindAuthRequired, f.Kind())
	assert.True(t, apperrors.IsAuthRequired(f))
}

func TestMustUnwrapPanicsOnFailure(t *testing.T) {
	assert.Panics(t, func() { Fail[string](0, "x").MustUnwrap() })
	assert.Equal(t, 3, Success(3).MustUnwrap())
}

func TestResultExactlyOneVariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("success unwraps and refuses UnwrapError", prop.ForAll(
		func(v int) bool {
			r := Success(v)
			got, err := r.Unwrap()
			_, errErr := r.UnwrapError()
			return !r.IsFailure() && err == nil && got == v && apperrors.IsContractViolation(errErr)
		},
		gen.Int(),
	))

	properties.Property("failure refuses Unwrap and keeps its status", prop.ForAll(
		func(status int, msg string) bool {
			r := Fail[int](status, msg)
			_, err := r.Unwrap()
			f, errErr := r.UnwrapError()
			return r.IsFailure() &&
				apperrors.IsContractViolation(err) &&
				errErr == nil &&
				f.StatusCode == status &&
				f.Message == msg
		},
		gen.IntRange(0, 599),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
