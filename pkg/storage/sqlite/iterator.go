package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
	"github.com/icanbwell/fhir-server-sub016/pkg/storage"
)

// chunkIterator reads rows lazily, chunkSize rows per call to Next, so that only one chunk
// is decoded at a time.
type chunkIterator struct {
	rows      *sql.Rows
	chunkSize int

	mu   sync.Mutex
	done bool
}

var _ storage.ChunkIterator = (*chunkIterator)(nil)

func (c *chunkIterator) Next(ctx context.Context) ([]resource.Resource, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, storage.ErrIteratorDone
	}

	chunk := make([]resource.Resource, 0, c.chunkSize)
	for len(chunk) < c.chunkSize && c.rows.Next() {
		var body string
		if err := c.rows.Scan(&body); err != nil {
			return nil, HandleSQLError(err)
		}

		r, err := resource.Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, r)
	}

	if len(chunk) < c.chunkSize {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return nil, HandleSQLError(err)
		}
		_ = c.rows.Close()
	}

	if len(chunk) == 0 {
		return nil, storage.ErrIteratorDone
	}

	return chunk, nil
}

func (c *chunkIterator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done = true
	_ = c.rows.Close()
}
