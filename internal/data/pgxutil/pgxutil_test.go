package pgxutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, TxOptions(nil))

	got := TxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	assert.Equal(t, pgx.Serializable, got.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, got.AccessMode)

	got = TxOptions(&sql.TxOptions{Isolation: sql.LevelDefault})
	assert.Equal(t, pgx.TxIsoLevel(""), got.IsoLevel)
	assert.Equal(t, pgx.ReadWrite, got.AccessMode)
}

func TestWithPgxTxRequiresFn(t *testing.T) {
	err := WithPgxTx(context.Background(), nil, TxConfig{})
	require.Error(t, err)
}
