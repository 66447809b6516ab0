package session

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/google/uuid"
)

// nextTableID allocates the next value of a generator row inside the
// session transaction, one id per allocation
func (s *Session) nextTableID(ctx context.Context, name string) (int64, error) {
	update := "UPDATE " + generatorTable + " SET " + generatorValueColumn + " = " + generatorValueColumn + " + 1 WHERE " + generatorNameColumn + " = ?"
	res, err := s.execute(ctx, nil, update, name)
	if err != nil {
		return 0, fmt.Errorf("failed to advance generator %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		insert, _ := db.NewBuilder(generatorTable).BuildInsert([]string{generatorNameColumn, generatorValueColumn})
		if _, err := s.execute(ctx, nil, insert, name, int64(1)); err != nil {
			return 0, fmt.Errorf("failed to create generator %s: %w", name, err)
		}
		return 1, nil
	}

	stmt, args := db.NewBuilder(generatorTable).
		Select(generatorValueColumn).
		Where(generatorNameColumn, db.Equal, name).
		BuildSelect()
	rows, err := s.queryRows(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to read generator %s: %w", name, err)
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("generator %s has %d rows", name, len(rows))
	}
	var next int64
	if err := mapping.Assign(reflect.ValueOf(&next).Elem(), rows[0][0]); err != nil {
		return 0, err
	}
	return next, nil
}

// generateID assigns a table or uuid generated key before the insert
func (s *Session) generateID(ctx context.Context, meta *mapping.Entity) (any, error) {
	switch meta.Generation {
	case mapping.GenerateTable:
		name := meta.Generator
		if name == "" {
			name = meta.Table
		}
		return s.nextTableID(ctx, name)
	case mapping.GenerateUUID:
		return uuid.NewString(), nil
	}
	return nil, fmt.Errorf("%s ids are not generated before insert", meta.Name)
}
