// Package knowledge implements the semantic search surface backed by
// sqlite-vec (SPEC_FULL.md domain stack): agents and objectives write
// short-lived facts here and later retrieve the most relevant ones by
// cosine similarity instead of by exact key.
package knowledge

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	"zmcptools/internal/apperr"
	"zmcptools/internal/idgen"
	"zmcptools/internal/logging"
	"zmcptools/internal/types"
)

// Entity is a single fact written to the knowledge store.
type Entity struct {
	ID             string
	RepositoryPath string
	Kind           string
	Content        string
	Metadata       types.Extensions
	CreatedAt      time.Time
}

// Match is a single semantic search result.
type Match struct {
	Entity     Entity
	Similarity float64
}

// Store wraps a *sql.DB with the knowledge_entities table and, when the
// sqlite-vec extension is available, a matching vec0 virtual table for ANN
// search. Embeddings are supplied by the caller (spec leaves the embedding
// model itself out of scope) as []float32.
type Store struct {
	db        *sql.DB
	dims      int
	vecReady  bool
}

// Open attaches a knowledge Store to an existing database connection and
// (if hasVec) creates the vec0 virtual table sized for dims-dimensional
// embeddings.
func Open(db *sql.DB, hasVec bool, dims int) (*Store, error) {
	s := &Store{db: db, dims: dims}
	if !hasVec {
		logging.Knowledge("sqlite-vec unavailable, knowledge store degraded to writes only (search disabled)")
		return s, nil
	}

	stmt := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_knowledge USING vec0(entity_id TEXT PRIMARY KEY, embedding float[%d])`,
		dims,
	)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("create vec_knowledge table: %w", err)
	}
	s.vecReady = true
	return s, nil
}

// Write stores an entity and, when embedding is non-nil and vec support is
// available, indexes it for semantic search.
func (s *Store) Write(e Entity, embedding []float32) error {
	if e.ID == "" {
		e.ID = idgen.Prefixed("kno")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalExtensions(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal knowledge metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO knowledge_entities (id, repository_path, kind, content, metadata, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.RepositoryPath, e.Kind, e.Content, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert knowledge entity: %w", err)
	}

	if s.vecReady && embedding != nil {
		if len(embedding) != s.dims {
			return apperr.New(apperr.KindInvalidArgument, "embedding has %d dims, store configured for %d", len(embedding), s.dims)
		}
		_, err := s.db.Exec(
			`INSERT INTO vec_knowledge (entity_id, embedding) VALUES (?, ?)`,
			e.ID, encodeFloat32Blob(embedding),
		)
		if err != nil {
			return fmt.Errorf("index knowledge embedding: %w", err)
		}
	}
	return nil
}

// Search returns the topK entities closest to queryEmbedding by cosine
// distance, optionally restricted to a repository.
func (s *Store) Search(repositoryPath string, queryEmbedding []float32, topK int) ([]Match, error) {
	if !s.vecReady {
		return nil, apperr.New(apperr.KindTransportUnavailable, "sqlite-vec not available, semantic search disabled")
	}
	if topK <= 0 {
		topK = 5
	}

	query := `
		SELECT e.id, e.repository_path, e.kind, e.content, e.metadata, e.created_at, v.distance
		FROM (
			SELECT entity_id, vec_distance_cosine(embedding, ?) AS distance
			FROM vec_knowledge
			ORDER BY distance ASC
			LIMIT ?
		) v
		JOIN knowledge_entities e ON e.id = v.entity_id
		WHERE (? = '' OR e.repository_path = ?)
		ORDER BY v.distance ASC
	`
	rows, err := s.db.Query(query, encodeFloat32Blob(queryEmbedding), topK*4, repositoryPath, repositoryPath)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var metadata string
		var distance float64
		if err := rows.Scan(&m.Entity.ID, &m.Entity.RepositoryPath, &m.Entity.Kind, &m.Entity.Content, &metadata, &m.Entity.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan knowledge match: %w", err)
		}
		if err := unmarshalExtensions(metadata, &m.Entity.Metadata); err != nil {
			return nil, err
		}
		m.Similarity = 1.0 - distance
		out = append(out, m)
		if len(out) >= topK {
			break
		}
	}
	return out, rows.Err()
}

func encodeFloat32Blob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func marshalExtensions(e types.Extensions) (string, error) {
	b, err := e.MarshalJSON()
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}

func unmarshalExtensions(data string, dest *types.Extensions) error {
	if data == "" {
		return nil
	}
	return dest.UnmarshalJSON([]byte(data))
}
