package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	csvsink "github.com/JakeFAU/webscraper/internal/sink/csv"
	jsonsink "github.com/JakeFAU/webscraper/internal/sink/jsonl"
	sqlitesink "github.com/JakeFAU/webscraper/internal/sink/sqlite"
)

func TestOpenSelectsFormat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	cols := []string{"title"}

	s, err := Open(ctx, Config{Format: "csv", Path: filepath.Join(dir, "a.csv")}, cols)
	require.NoError(t, err)
	require.IsType(t, &csvsink.Sink{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Format: "JSON", Path: filepath.Join(dir, "a.json")}, cols)
	require.NoError(t, err)
	require.IsType(t, &jsonsink.Sink{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Format: "sqlite", Path: filepath.Join(dir, "a.db")}, cols)
	require.NoError(t, err)
	require.IsType(t, &sqlitesink.Sink{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Format: "parquet"}, cols)
	require.Error(t, err)
	_, err = Open(ctx, Config{Format: "postgresql"}, cols)
	require.Error(t, err)
}
