package audit

import (
	"context"
	"testing"
	"time"

	"coderunner/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, model.SecurityViolation{
		ClientIP:    "10.0.0.1",
		Language:    "python",
		Issues:      []string{`Blocked pattern detected: import\s+os`},
		CodeSnippet: "import os",
		CreatedAt:   base,
	}))
	require.NoError(t, s.Record(ctx, model.SecurityViolation{
		ClientIP:    "10.0.0.2",
		Language:    "javascript",
		Issues:      []string{"Dangerous function detected: setTimeout", "Dangerous function detected: process.exit"},
		CodeSnippet: "setTimeout(process.exit)",
		CreatedAt:   base.Add(time.Minute),
	}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "10.0.0.2", got[0].ClientIP)
	assert.Equal(t, "javascript", got[0].Language)
	assert.Len(t, got[0].Issues, 2)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, "10.0.0.1", got[1].ClientIP)
	assert.NotZero(t, got[1].ID)
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, model.SecurityViolation{
			ClientIP: "127.0.0.1",
			Language: "python",
			Issues:   []string{"x"},
		}))
	}

	got, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecentEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}
