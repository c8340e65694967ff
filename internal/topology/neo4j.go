package topology

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"livedepartures/internal/domain"
	"livedepartures/pkg/gtfs"
)

const syncBatchSize = 5000

// GraphDirectory reads Stop nodes from Neo4j. Nodes carry stop_id as a
// string plus name, lat and lon.
type GraphDirectory struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

func ConnectGraph(ctx context.Context, uri, user, password, database string, logger *slog.Logger) (*GraphDirectory, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	logger = logger.With("component", "graph_directory")
	logger.Info("connected to Neo4j", "uri", uri, "database", database)
	return &GraphDirectory{driver: driver, database: database, logger: logger}, nil
}

func (g *GraphDirectory) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *GraphDirectory) query(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, g.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
}

func (g *GraphDirectory) AllStops(ctx context.Context) ([]*domain.Stop, error) {
	start := time.Now()
	result, err := g.query(ctx, `MATCH (s:Stop) RETURN s`, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}

	stops := make([]*domain.Stop, 0, len(result.Records))
	skipped := 0
	for _, record := range result.Records {
		node, _, err := neo4j.GetRecordValue[neo4j.Node](record, "s")
		if err != nil {
			skipped++
			continue
		}
		stop, err := stopFromProps(node.Props)
		if err != nil {
			skipped++
			continue
		}
		stops = append(stops, stop)
	}

	g.logger.Debug("loaded stops from graph",
		"count", len(stops),
		"skipped", skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return stops, nil
}

func (g *GraphDirectory) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	result, err := g.query(ctx, `MATCH (s:Stop {stop_id: $id}) RETURN s LIMIT 1`,
		map[string]any{"id": strconv.FormatInt(id, 10)})
	if err != nil {
		return nil, fmt.Errorf("failed to query stop: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, ErrNotFound
	}
	node, _, err := neo4j.GetRecordValue[neo4j.Node](result.Records[0], "s")
	if err != nil {
		return nil, fmt.Errorf("failed to read stop node: %w", err)
	}
	return stopFromProps(node.Props)
}

// Sync merges every stop of a freshly imported schedule into the graph.
func (g *GraphDirectory) Sync(ctx context.Context, feed *gtfs.Feed) error {
	start := time.Now()
	for lo := 0; lo < len(feed.Stops); lo += syncBatchSize {
		hi := min(lo+syncBatchSize, len(feed.Stops))
		rows := make([]map[string]any, 0, hi-lo)
		for _, st := range feed.Stops[lo:hi] {
			rows = append(rows, map[string]any{
				"stop_id": strconv.FormatInt(st.ID, 10),
				"name":    st.Name,
				"lat":     st.Lat,
				"lon":     st.Lon,
			})
		}
		_, err := g.query(ctx, `
			UNWIND $rows AS row
			MERGE (s:Stop {stop_id: row.stop_id})
			SET s.name = row.name, s.lat = row.lat, s.lon = row.lon`,
			map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("failed to merge stops: %w", err)
		}
	}

	g.logger.Info("synced stops to graph",
		"stops", len(feed.Stops),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func stopFromProps(props map[string]any) (*domain.Stop, error) {
	var id int64
	switch v := props["stop_id"].(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stop_id %q not a number", v)
		}
		id = parsed
	case int64:
		id = v
	default:
		return nil, fmt.Errorf("stop_id missing")
	}

	name, _ := props["name"].(string)
	lat, _ := props["lat"].(float64)
	lon, _ := props["lon"].(float64)
	return &domain.Stop{ID: id, Name: name, Lat: lat, Lon: lon}, nil
}
