package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackzampolin/scribe/internal/defra"
)

// Collection is the document count of one scribe collection.
type Collection struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
	// ByStatus splits Walk records by status, so interrupted walks show up.
	ByStatus map[string]int `json:"by_status,omitempty"`
}

// Inventory counts the documents of every registered collection. It fails
// if a collection has not been initialized.
func Inventory(ctx context.Context, client *defra.Client) ([]Collection, error) {
	schemas := make([]Schema, len(registry))
	copy(schemas, registry)
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Order < schemas[j].Order })

	out := make([]Collection, 0, len(schemas))
	for _, s := range schemas {
		q := defra.NewQuery(s.Name)
		if s.Name == Walk {
			q.Fields("_docID", "status")
		}
		docs, err := q.Execute(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", s.Name, err)
		}
		c := Collection{Name: s.Name, Documents: len(docs)}
		if s.Name == Walk {
			c.ByStatus = make(map[string]int)
			for _, d := range docs {
				if st, ok := d["status"].(string); ok && st != "" {
					c.ByStatus[st]++
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}
