package kafkabus

import (
	"context"
	"encoding/hex"

	"github.com/jackc/pgx/v5/pgxpool"
)

const upsertRouterSQL = `
INSERT INTO routers (router_id, router_ip, hostname, description, first_seen, last_seen)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (router_id) DO UPDATE SET
    router_ip   = COALESCE(EXCLUDED.router_ip, routers.router_ip),
    hostname    = COALESCE(EXCLUDED.hostname, routers.hostname),
    description = COALESCE(EXCLUDED.description, routers.description),
    last_seen   = now()`

// upsertRouter inserts or updates router metadata from a BMP Initiation
// message. COALESCE preserves values already populated from an earlier
// session so a bare heartbeat doesn't null out a hostname learned before.
func upsertRouter(ctx context.Context, pool *pgxpool.Pool, routerHash [16]byte, routerIP, hostname, description string) error {
	_, err := pool.Exec(ctx, upsertRouterSQL,
		hex.EncodeToString(routerHash[:]),
		nilIfEmptyStr(routerIP),
		nilIfEmptyStr(hostname),
		nilIfEmptyStr(description),
	)
	return err
}

func nilIfEmptyStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
