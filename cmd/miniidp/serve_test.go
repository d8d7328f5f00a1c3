package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mini-idp/mini-idp/config"
	sqlstore "github.com/mini-idp/mini-idp/storage/sql"
)

func TestOpenDBRejectsUnsupportedDriver(t *testing.T) {
	_, _, err := openDB(context.Background(), &config.Config{DatabaseDriver: "oracle"})
	require.Error(t, err)
}

func TestOpenDBDefaultsToSQLite(t *testing.T) {
	raw, flavor, err := openDB(context.Background(), &config.Config{DatabaseDriver: "", DatabaseDSN: ":memory:"})
	require.NoError(t, err)
	defer raw.Close()
	require.Equal(t, sqlstore.SQLite, flavor)
}
