package store

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/planforge/planforge/internal/task"
)

// planDoc is the indexed shape of a plan.
type planDoc struct {
	PlanID  string   `json:"plan_id"`
	Intent  string   `json:"intent"`
	TaskIDs []string `json:"task_ids"`
	Intents []string `json:"task_intents"`
	Tools   []string `json:"tools"`
}

// SearchHit is one plan matched by a query.
type SearchHit struct {
	PlanID string
	Intent string
	Score  float64
}

// PlanIndex is an in-memory full-text index over synthesized plans,
// searchable by intent text, task intents and tool names.
type PlanIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]planDoc
}

// NewPlanIndex creates an empty in-memory index.
func NewPlanIndex() (*PlanIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create plan index: %w", err)
	}
	return &PlanIndex{index: index, meta: map[string]planDoc{}}, nil
}

// Add indexes (or reindexes) a plan.
func (x *PlanIndex) Add(p task.Plan) error {
	doc := planDoc{PlanID: p.ID, Intent: p.Intent, TaskIDs: p.TaskIDs()}
	seen := map[string]bool{}
	for _, t := range p.Tasks {
		doc.Intents = append(doc.Intents, t.Intent)
		for _, tool := range t.Tools {
			if !seen[tool] {
				seen[tool] = true
				doc.Tools = append(doc.Tools, tool)
			}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.index.Index(p.ID, doc); err != nil {
		return fmt.Errorf("index plan: %w", err)
	}
	x.meta[p.ID] = doc
	return nil
}

// Search returns up to k plans matching the query, best first.
func (x *PlanIndex) Search(q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)

	x.mu.RLock()
	defer x.mu.RUnlock()
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search plans: %w", err)
	}
	out := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc := x.meta[hit.ID]
		out = append(out, SearchHit{PlanID: hit.ID, Intent: doc.Intent, Score: hit.Score})
	}
	return out, nil
}
