package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns invariant checks; each query selects violating rows, so an
// empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_offer",
			SQL: `SELECT request_id, COUNT(*) FROM offers
                  WHERE status = 'accepted'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_request_has_engagement",
			SQL: `SELECT r.id, r.accepted_offer_id, e.offer_id FROM requests r
                  LEFT JOIN engagements e ON e.request_id = r.id
                  WHERE r.status = 'accepted'
                    AND (e.id IS NULL OR e.offer_id <> r.accepted_offer_id)`,
		},
		{
			Name: "O3_engagement_matches_offer",
			SQL: `SELECT e.id, o.status, e.amount, o.price FROM engagements e
                  JOIN offers o ON o.id = e.offer_id
                  WHERE o.status <> 'accepted'
                     OR o.request_id <> e.request_id
                     OR o.provider_id <> e.provider_id
                     OR o.price <> e.amount`,
		},
		{
			Name: "O4_closed_request_has_no_pending_offer",
			SQL: `SELECT r.id, r.status, o.id FROM requests r
                  JOIN offers o ON o.request_id = r.id
                  WHERE r.status IN ('accepted', 'cancelled') AND o.status = 'pending'`,
		},
		{
			Name: "O5_engagement_only_for_accepted",
			SQL: `SELECT e.id, r.status FROM engagements e
                  JOIN requests r ON r.id = e.request_id
                  WHERE r.status <> 'accepted'`,
		},
		{
			Name: "O6_one_live_offer_per_provider",
			SQL: `SELECT request_id, provider_id, COUNT(*) FROM offers
                  WHERE status <> 'withdrawn'
                  GROUP BY request_id, provider_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_offer_count_covers_offers",
			SQL: `SELECT r.id, r.offer_count, COUNT(o.id) FROM requests r
                  LEFT JOIN offers o ON o.request_id = r.id
                  GROUP BY r.id, r.offer_count
                  HAVING r.offer_count < COUNT(o.id)`,
		},
		{
			Name: "O8_open_request_has_no_offers",
			SQL: `SELECT r.id FROM requests r
                  WHERE r.status = 'open'
                    AND EXISTS (SELECT 1 FROM offers o WHERE o.request_id = r.id)`,
		},
		{
			Name: "O9_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '2 minutes'`,
		},
		{
			Name: "O10_engagement_mutation_guard",
			SQL: `SELECT 'missing_no_mutate_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_mutate_engagements')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
