package pending

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cadbridge/internal/errors"
)

func TestRegisterResolve(t *testing.T) {
	r := NewRegistry()
	call := &Call{ID: "c1", Operation: "list_documents", Owner: "state"}

	h := r.Register(call)
	assert.Equal(t, 1, r.Len())

	got, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Same(t, call, got)
	assert.Equal(t, "state", got.Owner)
	assert.Equal(t, 0, r.Len())
}

func TestResolveTwiceIsContractViolation(t *testing.T) {
	r := NewRegistry()
	h := r.Register(&Call{ID: "c1"})

	_, err := r.Resolve(h)
	require.NoError(t, err)

	_, err = r.Resolve(h)
	require.Error(t, err)
	assert.True(t, apperrors.IsContractViolation(err))
}

func TestResolveUnknownHandle(t *testing.T) {
	_, err := NewRegistry().Resolve(Handle(42))
	assert.True(t, apperrors.IsContractViolation(err))
}

func TestHandlesAreNotReused(t *testing.T) {
	r := NewRegistry()
	h1 := r.Register(&Call{})
	_, _ = r.Resolve(h1)
	h2 := r.Register(&Call{})
	assert.NotEqual(t, h1, h2)

	_, err := r.Resolve(h1)
	assert.True(t, apperrors.IsContractViolation(err), "a stale handle must not resolve a newer call")
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register(&Call{ID: "a", Operation: "export_stl", URL: "https://cad.example/x", RedirectCount: 2})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, 2, snap[0].RedirectCount)
}

func TestConcurrentRegisterResolve(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Register(&Call{})
			if _, err := r.Resolve(h); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestEveryRegisterMatchedByOneResolveProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("n registrations resolve once each and then fail", prop.ForAll(
		func(n int) bool {
			r := NewRegistry()
			handles := make([]Handle, n)
			for i := range handles {
				handles[i] = r.Register(&Call{})
			}
			for _, h := range handles {
				if _, err := r.Resolve(h); err != nil {
					return false
				}
			}
			for _, h := range handles {
				if _, err := r.Resolve(h); !apperrors.IsContractViolation(err) {
					return false
				}
			}
			return r.Len() == 0
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
