package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/thomas-villani/nb-sub001/internal/models"
)

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// Chunks returns every chunk that carries a vector, optionally scoped to a notebook.
func (db *DB) Chunks(ctx context.Context, notebook string) ([]models.Chunk, error) {
	q := `SELECT c.path, c.seq, c.heading, c.content, c.start_line, c.end_line, c.vector
		FROM chunks c JOIN notes n ON n.path = c.path
		WHERE c.vector IS NOT NULL`
	var args []any
	if notebook != "" {
		q += ` AND n.notebook = ?`
		args = append(args, notebook)
	}
	q += ` ORDER BY c.path, c.seq`
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: chunks: %w", err)
	}
	defer rows.Close()
	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var blob []byte
		if err := rows.Scan(&c.Path, &c.Seq, &c.Heading, &c.Content, &c.StartLine, &c.EndLine, &blob); err != nil {
			return nil, err
		}
		c.Vector = decodeVector(blob)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CachedEmbeddings returns cached vectors for the given content hashes.
func (db *DB) CachedEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 || model == "" {
		return out, nil
	}
	args := []any{model}
	for _, h := range hashes {
		args = append(args, h)
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT content_hash, vector FROM embedding_cache WHERE model = ? AND content_hash IN (`+placeholders(len(hashes))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("index: embedding cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		var blob []byte
		if err := rows.Scan(&h, &blob); err != nil {
			return nil, err
		}
		out[h] = decodeVector(blob)
	}
	return out, rows.Err()
}
