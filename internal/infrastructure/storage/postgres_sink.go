package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"roadwatch/internal/aggregate"
	"roadwatch/internal/ports"
)

// PostgresSink appends per-changeset rows to the PostGIS changeset_ids
// table, one batch per processed day. Geometry is a WGS84 point built from
// the resolved lon/lat.
type PostgresSink struct {
	db *sql.DB
}

var _ ports.EditSink = (*PostgresSink)(nil)

// NewPostgresSink wires a sql.DB; a nil db disables the sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// SaveDay inserts the day's rows inside one transaction so a failed day
// leaves no partial batch behind.
func (s *PostgresSink) SaveDay(ctx context.Context, rows []aggregate.FlatRow) error {
	if s.db == nil || len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	query := `INSERT INTO changeset_ids
              (changeset, road_type, day, country, state,
               element_node, element_relation, element_way,
               operation_create, operation_modify, geometry)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
                      ST_SetSRID(ST_MakePoint($11, $12), 4326))`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}

	for _, row := range rows {
		_, err = stmt.ExecContext(ctx,
			row.Changeset,
			row.RoadType,
			row.Day,
			nullable(row.Country),
			nullable(row.State),
			row.ElementNode,
			row.ElementRelation,
			row.ElementWay,
			row.OperationCreate,
			row.OperationModify,
			row.Lon,
			row.Lat,
		)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert changeset %d: %w", row.Changeset, err)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// nullable maps the empty label (edit outside every boundary) to SQL NULL.
func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
