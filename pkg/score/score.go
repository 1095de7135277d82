// Package score recomputes the aggregate columns the export ranks by.
package score

import (
	"context"
	"fmt"
	"time"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/logger"
)

// step is one set-based statement group run inside the aggregation transaction.
type step struct {
	name  string
	stmts []string
}

// A product scores one point per distinct site with an entry linking it.
var productScore = step{
	name: "product score",
	stmts: []string{
		`UPDATE products SET score = 0`,
		`UPDATE products SET score = agg.score
		 FROM (
		     SELECT ep.product_id, COUNT(DISTINCT e.site_id) AS score
		     FROM entry_products ep
		     JOIN entries e ON e.id = ep.entry_id
		     GROUP BY ep.product_id
		 ) AS agg
		 WHERE agg.product_id = products.id`,
	},
}

var tagCount = step{
	name: "tag count",
	stmts: []string{
		`UPDATE tags SET count = 0`,
		`UPDATE tags SET count = agg.count
		 FROM (
		     SELECT tag_id, COUNT(*) AS count
		     FROM product_tags
		     GROUP BY tag_id
		 ) AS agg
		 WHERE agg.tag_id = tags.id`,
	},
}

// Calculator recomputes product scores and tag counts.
type Calculator struct {
	store *db.Store
	log   logger.Interface
}

// NewCalculator creates a Calculator.
func NewCalculator(store *db.Store, log logger.Interface) *Calculator {
	return &Calculator{store: store, log: log}
}

// Calculate runs every aggregation in one transaction. Nothing is written
// when any statement fails.
func (c *Calculator) Calculate(ctx context.Context) error {
	log := logger.ForRun(c.log, "score")
	err := c.store.InTx(ctx, func(tx *db.Store) error {
		for _, s := range []step{productScore, tagCount} {
			start := time.Now()
			log.Info("aggregation started", "step", s.name)
			for _, stmt := range s.stmts {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("%s: %w", s.name, err)
				}
			}
			log.Info("aggregation finished", "step", s.name, "duration", time.Since(start))
		}
		return nil
	})
	if err != nil {
		log.Error("aggregation rolled back", "error", err)
		return err
	}
	return nil
}
