package db

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/lodgeledger/lodgeledger/internal/shared"
)

// Repositories batch inserts through Conn, so both connection kinds must
// satisfy the full Querier surface.
var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

func TestMapErrorPassesThroughPlainErrors(t *testing.T) {
	require.NoError(t, MapError(nil))
	require.ErrorIs(t, MapError(pgx.ErrNoRows), pgx.ErrNoRows)
	require.True(t, IsNoRows(MapError(pgx.ErrNoRows)))
	require.NotErrorIs(t, MapError(pgx.ErrNoRows), shared.ErrConflict)
}
