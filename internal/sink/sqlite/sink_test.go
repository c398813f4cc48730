package sqlitesink

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func TestSinkInsertsRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "books.db")
	s, err := New(ctx, Config{Path: path, Table: "books"}, []string{"price", "title"})
	require.NoError(t, err)

	require.NoError(t, s.Append(ctx, []scraper.Record{
		{"title": "A", "price": "£1.00"},
		{"title": "B", "price": nil},
	}))
	require.NoError(t, s.Close())

	// reopening keeps existing rows
	s, err = New(ctx, Config{Path: path, Table: "books"}, []string{"price", "title"})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, []scraper.Record{{"title": "C", "price": "3"}}))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT title, price FROM books ORDER BY _id`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		title string
		price sql.NullString
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.title, &r.price))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)
	require.Equal(t, "A", got[0].title)
	require.Equal(t, "£1.00", got[0].price.String)
	require.False(t, got[1].price.Valid)
	require.Equal(t, "C", got[2].title)
}

func TestNewRejectsUnsafeIdentifiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "x.db")
	_, err := New(ctx, Config{Path: path, Table: "books; DROP TABLE x"}, []string{"a"})
	require.Error(t, err)
	_, err = New(ctx, Config{Path: path}, []string{`a"b`})
	require.Error(t, err)
	_, err = New(ctx, Config{}, []string{"a"})
	require.Error(t, err)
}
