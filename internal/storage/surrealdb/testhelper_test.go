package surrealdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/tally/internal/common"
	tcommon "github.com/bobmcallan/tally/tests/common"
)

// testBackend starts the shared SurrealDB container and returns a backend
// on a database unique to the test.
func testBackend(t *testing.T) *Backend {
	t.Helper()
	if !tcommon.SurrealEnabled() {
		t.Skip("set TALLY_TEST_SURREALDB=true to run SurrealDB tests (needs Docker)")
	}

	sc := tcommon.StartSurrealDB(t)
	b, err := NewBackend(context.Background(), common.NewSilentLogger(), sc.StorageConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Close()
	})
	return b
}
