package triplestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rand/docgraph/internal/graphdoc"
)

func sampleTriples() []graphdoc.Triple {
	return []graphdoc.Triple{
		{Subject: "urn:r", Predicate: graphdoc.PredType, Object: "dg:root"},
		{Subject: "urn:r", Predicate: graphdoc.PredGraphGroup, Object: "urn:r"},
		{Subject: "urn:b", Predicate: graphdoc.PredType, Object: "dg:branch"},
		{Subject: "urn:b", Predicate: graphdoc.PredGraphGroup, Object: "urn:r"},
		{Subject: "urn:l", Predicate: graphdoc.PredType, Object: "dg:leaf"},
		{Subject: "urn:l", Predicate: "prop:value", Object: "Alice"},
		{Subject: "urn:l", Predicate: graphdoc.PredGraphGroup, Object: "urn:r"},
		{Subject: "urn:l", Predicate: graphdoc.PredBranchGroup, Object: "urn:b"},
	}
}

// runStoreTests runs the same tests against any Store implementation.
func runStoreTests(t *testing.T, newStore func() Store) {
	t.Run("InsertAndFetchSubject", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))

		got, err := store.FetchSubjectTriples(ctx, "g", "urn:l")
		require.NoError(t, err)
		assert.ElementsMatch(t, []graphdoc.Triple{
			{Subject: "urn:l", Predicate: graphdoc.PredType, Object: "dg:leaf"},
			{Subject: "urn:l", Predicate: "prop:value", Object: "Alice"},
			{Subject: "urn:l", Predicate: graphdoc.PredGraphGroup, Object: "urn:r"},
			{Subject: "urn:l", Predicate: graphdoc.PredBranchGroup, Object: "urn:b"},
		}, got)
	})

	t.Run("FetchSubject_Unknown", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		got, err := store.FetchSubjectTriples(context.Background(), "g", "urn:missing")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("InsertIsIdempotent", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))
		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))

		got, err := store.FetchSubjectTriples(ctx, "g", "urn:r")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))

		ok, err := store.Exists(ctx, "g", "urn:b", "dg:branch")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, "g", "urn:b", "dg:leaf")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.Exists(ctx, "g", "urn:b", "")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, "g", "urn:nope", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("FetchByTag", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))

		got, err := store.FetchByTag(ctx, "g", graphdoc.TagGraphGroup, "urn:r")
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:b", "urn:l", "urn:r"}, graphdoc.Subjects(got))
		assert.Len(t, got, len(sampleTriples()))

		got, err = store.FetchByTag(ctx, "g", graphdoc.TagBranchGroup, "urn:b")
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:l"}, graphdoc.Subjects(got))
		assert.Len(t, got, 4)

		got, err = store.FetchByTag(ctx, "g", graphdoc.TagBranchGroup, "urn:none")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DeleteTriples", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))
		require.NoError(t, store.DeleteTriples(ctx, "g", []string{"urn:l", "urn:b", "urn:never"}))

		got, err := store.FetchByTag(ctx, "g", graphdoc.TagGraphGroup, "urn:r")
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:r"}, graphdoc.Subjects(got))

		require.NoError(t, store.DeleteTriples(ctx, "g", nil))
	})

	t.Run("ScopesAreIsolated", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "a", sampleTriples()))

		ok, err := store.Exists(ctx, "b", "urn:r", "")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.DeleteTriples(ctx, "b", []string{"urn:r"}))
		ok, err = store.Exists(ctx, "a", "urn:r", "dg:root")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SubjectsOfType", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))
		require.NoError(t, store.InsertTriples(ctx, "g", []graphdoc.Triple{
			{Subject: "urn:a", Predicate: graphdoc.PredType, Object: "dg:branch"},
		}))

		got, err := store.SubjectsOfType(ctx, "g", "dg:branch")
		require.NoError(t, err)
		assert.Equal(t, []string{"urn:a", "urn:b"}, got)

		got, err = store.SubjectsOfType(ctx, "g", "dg:branch_leaf")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func() Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.FetchSubjectTriples(context.Background(), "g", "urn:r")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.InsertTriples(context.Background(), "g", sampleTriples()), ErrClosed)
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func() Store {
		store, err := NewSQLiteStore(SQLiteOptions{})
		if err != nil {
			t.Fatalf("failed to create SQLite store: %v", err)
		}
		return store
	})
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "graph.db")
	ctx := t.Context()

	store, err := NewSQLiteStore(SQLiteOptions{Path: path, CreateIfNotExists: true})
	require.NoError(t, err)
	require.NoError(t, store.InsertTriples(ctx, "g", sampleTriples()))
	assert.Equal(t, path, store.Path())
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Exists(ctx, "g", "urn:r", "")
	assert.ErrorIs(t, err, ErrClosed)

	reopened, err := NewSQLiteStore(SQLiteOptions{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FetchByTag(ctx, "g", graphdoc.TagGraphGroup, "urn:r")
	require.NoError(t, err)
	assert.Len(t, got, len(sampleTriples()))
}

func TestSQLiteStore_LargeDelete(t *testing.T) {
	store, err := NewSQLiteStore(SQLiteOptions{})
	require.NoError(t, err)
	defer store.Close()
	ctx := t.Context()

	var ts []graphdoc.Triple
	var subjects []string
	for i := range deleteBatchSize*2 + 7 {
		s := "urn:n" + string(rune('a'+i%26)) + string(rune('a'+i/26%26)) + string(rune('a'+i/676))
		subjects = append(subjects, s)
		ts = append(ts, graphdoc.Triple{Subject: s, Predicate: graphdoc.PredType, Object: "dg:leaf"})
	}
	require.NoError(t, store.InsertTriples(ctx, "g", ts))
	require.NoError(t, store.DeleteTriples(ctx, "g", subjects))

	left, err := store.SubjectsOfType(ctx, "g", "dg:leaf")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestNeo4jStore(t *testing.T) {
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		t.Skip("NEO4J_URI not set")
	}
	cfg := Neo4jConfig{
		URI:      uri,
		Username: os.Getenv("NEO4J_USERNAME"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	}

	runStoreTests(t, func() Store {
		store, err := NewNeo4jStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("failed to connect to neo4j: %v", err)
		}
		if err := store.EnsureIndexes(context.Background()); err != nil {
			t.Fatalf("failed to create indexes: %v", err)
		}
		// Every subtest writes to scopes "a", "b" and "g"; start clean.
		for _, scope := range []string{"a", "b", "g"} {
			subjects, _ := store.SubjectsOfType(context.Background(), scope, "dg:root")
			more, _ := store.SubjectsOfType(context.Background(), scope, "dg:branch")
			leaves, _ := store.SubjectsOfType(context.Background(), scope, "dg:leaf")
			subjects = append(append(subjects, more...), leaves...)
			_ = store.DeleteTriples(context.Background(), scope, subjects)
		}
		return store
	})
}

// TestProperty_BackendsAgree checks the SQLite store answers like the memory store.
func TestProperty_BackendsAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mem := NewMemoryStore()
		sql, err := NewSQLiteStore(SQLiteOptions{})
		require.NoError(t, err)
		defer sql.Close()
		ctx := context.Background()

		subjects := []string{"urn:a", "urn:b", "urn:c", "urn:d"}
		n := rapid.IntRange(0, 30).Draw(t, "n")
		var ts []graphdoc.Triple
		for i := 0; i < n; i++ {
			ts = append(ts, graphdoc.Triple{
				Subject:   rapid.SampledFrom(subjects).Draw(t, "subject"),
				Predicate: rapid.SampledFrom([]string{graphdoc.PredType, graphdoc.PredGraphGroup, "prop:x"}).Draw(t, "predicate"),
				Object:    rapid.StringMatching(`[a-z:]{1,6}`).Draw(t, "object"),
			})
		}
		deleted := rapid.SliceOfDistinct(rapid.SampledFrom(subjects), func(s string) string { return s }).Draw(t, "deleted")

		for _, store := range []Store{mem, sql} {
			require.NoError(t, store.InsertTriples(ctx, "g", ts))
			require.NoError(t, store.DeleteTriples(ctx, "g", deleted))
		}

		for _, s := range subjects {
			want, err := mem.FetchSubjectTriples(ctx, "g", s)
			require.NoError(t, err)
			got, err := sql.FetchSubjectTriples(ctx, "g", s)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, got)
		}
	})
}
