package index

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/internal/storage"
)

// TestVectorFormatCompatibility checks that the blob layout is readable by sqlite-vec
func TestVectorFormatCompatibility(t *testing.T) {
	if !storage.VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	db, err := sql.Open(storage.DriverName, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	a := serializeVector([]float32{1, 2, 3, 4})
	b := serializeVector([]float32{-1, -2, -3, -4})

	var same, opposite float64
	require.NoError(t, db.QueryRowContext(ctx, "SELECT vec_distance_cosine(?, ?)", a, a).Scan(&same))
	require.NoError(t, db.QueryRowContext(ctx, "SELECT vec_distance_cosine(?, ?)", a, b).Scan(&opposite))

	assert.InDelta(t, 0.0, same, 1e-6)
	assert.InDelta(t, 2.0, opposite, 1e-6)
}
