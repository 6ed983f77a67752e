package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/transform"
	"laundromat-importer/packages/writer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ writer.Store      = (*Storage)(nil)
	_ writer.Reconciler = (*Storage)(nil)
	_ writer.Tx         = (*repoTx)(nil)
)

func TestSchemaIsEmbedded(t *testing.T) {
	for _, table := range []string{"states", "cities", "laundromats"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schemaSQL, "WHERE nearby_places IS NULL")
}

func TestNonNil(t *testing.T) {
	assert.Equal(t, []string{}, nonNil(nil))
	assert.Equal(t, []string{"a"}, nonNil([]string{"a"}))
}

// openTestStorage connects to TEST_DATABASE_URL inside a throwaway schema.
func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := New(ctx, url, 1)
	require.NoError(t, err)
	_, err = admin.DB.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	admin.Close()

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	s, err := New(ctx, url+sep+"search_path="+schema, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.DB.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		s.Close()
	})
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestStorage_WriterRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	w := writer.New(s)

	rec := transform.Enrich(domain.SourceRecord{
		ID: 1, Name: "Clean Spin", Address: "", City: "Austin", State: "TX",
		Latitude: 30.26, Longitude: -97.74, HasCoords: true,
	}, "abc123", nil)

	out, err := w.Write(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, writer.Inserted, out)
	out, err = w.Write(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, writer.Skipped, out)

	var stateCount, cityCount int
	require.NoError(t, s.DB.QueryRow(ctx, `SELECT laundromat_count FROM states WHERE code = 'TX'`).Scan(&stateCount))
	require.NoError(t, s.DB.QueryRow(ctx, `SELECT laundromat_count FROM cities WHERE slug = 'austin'`).Scan(&cityCount))
	assert.Equal(t, 1, stateCount)
	assert.Equal(t, 1, cityCount)

	_, err = s.DB.Exec(ctx, `UPDATE states SET laundromat_count = 42`)
	require.NoError(t, err)
	require.NoError(t, s.RecomputeCounters(ctx))
	require.NoError(t, s.DB.QueryRow(ctx, `SELECT laundromat_count FROM states WHERE code = 'TX'`).Scan(&stateCount))
	assert.Equal(t, 1, stateCount)

	pending, err := s.FetchPendingNearby(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].HasCoords)

	places := domain.NewNearbyPlaces()
	require.NoError(t, s.SaveNearbyPlaces(ctx, pending[0].ID, places))
	n, err := s.CountPendingNearby(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	missing, err := s.FetchMissingAddress(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.NoError(t, s.UpdateAddress(ctx, missing[0].ID, domain.Address{Street: "100 Congress Ave", PostalCode: "78701"}))
	n, err = s.CountMissingAddress(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.RefreshGauges(ctx))
}
