package triplestore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rand/docgraph/internal/graphdoc"
)

// Neo4jConfig holds Neo4j connection configuration.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore is a Store that keeps one :Statement node per triple.
//
// Statements are never linked to each other; the lifecycle layer owns all
// graph semantics and only needs primitive subject and tag lookups.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{driver: driver, database: database}, nil
}

// EnsureIndexes creates the statement lookup indexes if missing.
func (s *Neo4jStore) EnsureIndexes(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	queries := []string{
		`CREATE INDEX statement_subject IF NOT EXISTS FOR (t:Statement) ON (t.scope, t.s)`,
		`CREATE INDEX statement_tag IF NOT EXISTS FOR (t:Statement) ON (t.scope, t.p, t.o)`,
	}
	for _, q := range queries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

// Exists reports whether uri is typed typ (any type when typ is empty).
func (s *Neo4jStore) Exists(ctx context.Context, scope, uri, typ string) (bool, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	query := `MATCH (t:Statement {scope: $scope, s: $uri, p: $p}) RETURN count(t) > 0 AS found`
	params := map[string]any{"scope": scope, "uri": uri, "p": graphdoc.PredType}
	if typ != "" {
		query = `MATCH (t:Statement {scope: $scope, s: $uri, p: $p, o: $o}) RETURN count(t) > 0 AS found`
		params["o"] = typ
	}

	found, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _ := record.Get("found")
		b, _ := v.(bool)
		return b, nil
	})
	if err != nil {
		return false, fmt.Errorf("probe subject: %w", err)
	}
	return found.(bool), nil
}

// FetchSubjectTriples returns every triple of uri.
func (s *Neo4jStore) FetchSubjectTriples(ctx context.Context, scope, uri string) ([]graphdoc.Triple, error) {
	ts, err := s.readTriples(ctx, `
		MATCH (t:Statement {scope: $scope, s: $uri})
		RETURN t.s AS s, t.p AS p, t.o AS o
		ORDER BY s, p, o
	`, map[string]any{"scope": scope, "uri": uri})
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return ts, nil
}

// FetchByTag returns the triples of every subject carrying tag = value.
func (s *Neo4jStore) FetchByTag(ctx context.Context, scope, tag, value string) ([]graphdoc.Triple, error) {
	ts, err := s.readTriples(ctx, `
		MATCH (tag:Statement {scope: $scope, p: $tag, o: $value})
		WITH DISTINCT tag.s AS subject
		MATCH (t:Statement {scope: $scope, s: subject})
		RETURN t.s AS s, t.p AS p, t.o AS o
		ORDER BY s, p, o
	`, map[string]any{"scope": scope, "tag": tag, "value": value})
	if err != nil {
		return nil, fmt.Errorf("query tag: %w", err)
	}
	return ts, nil
}

// DeleteTriples removes every triple of the given subjects in one transaction.
func (s *Neo4jStore) DeleteTriples(ctx context.Context, scope string, subjects []string) error {
	if len(subjects) == 0 {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (t:Statement {scope: $scope})
			WHERE t.s IN $subjects
			DELETE t
		`, map[string]any{"scope": scope, "subjects": subjects})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("delete triples: %w", err)
	}
	return nil
}

// InsertTriples merges triples in one transaction.
func (s *Neo4jStore) InsertTriples(ctx context.Context, scope string, triples []graphdoc.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	rows := make([]map[string]any, len(triples))
	for i, t := range triples {
		rows[i] = map[string]any{"s": t.Subject, "p": t.Predicate, "o": t.Object}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (:Statement {scope: $scope, s: row.s, p: row.p, o: row.o})
		`, map[string]any{"scope": scope, "rows": rows})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("insert triples: %w", err)
	}
	return nil
}

// SubjectsOfType lists the subjects typed typ, sorted.
func (s *Neo4jStore) SubjectsOfType(ctx context.Context, scope, typ string) ([]string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (t:Statement {scope: $scope, p: $p, o: $o})
			RETURN DISTINCT t.s AS s
			ORDER BY s
		`, map[string]any{"scope": scope, "p": graphdoc.PredType, "o": typ})
		if err != nil {
			return nil, err
		}
		var subjects []string
		for result.Next(ctx) {
			v, _ := result.Record().Get("s")
			subject, _ := v.(string)
			subjects = append(subjects, subject)
		}
		return subjects, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	return out.([]string), nil
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) readTriples(ctx context.Context, query string, params map[string]any) ([]graphdoc.Triple, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var ts []graphdoc.Triple
		for result.Next(ctx) {
			record := result.Record()
			subject, _ := record.Get("s")
			predicate, _ := record.Get("p")
			object, _ := record.Get("o")
			ts = append(ts, graphdoc.Triple{
				Subject:   asString(subject),
				Predicate: asString(predicate),
				Object:    asString(object),
			})
		}
		return ts, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]graphdoc.Triple), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
