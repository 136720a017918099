package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/syssam/morph"
)

func TestConstraintClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		fk     bool
		check  bool
	}{
		{
			name:   "pq_unique",
			err:    &pq.Error{Code: "23505", Message: "duplicate key"},
			unique: true,
		},
		{
			name: "pq_foreign_key",
			err:  &pq.Error{Code: "23503"},
			fk:   true,
		},
		{
			name:  "pq_check",
			err:   &pq.Error{Code: "23514"},
			check: true,
		},
		{
			name:   "mysql_duplicate_entry",
			err:    &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			unique: true,
		},
		{
			name: "mysql_fk_parent",
			err:  &mysql.MySQLError{Number: 1451},
			fk:   true,
		},
		{
			name: "mysql_fk_child",
			err:  &mysql.MySQLError{Number: 1452},
			fk:   true,
		},
		{
			name:  "mysql_check",
			err:   &mysql.MySQLError{Number: 3819},
			check: true,
		},
		{
			name:   "sqlite_unique_string",
			err:    errors.New("UNIQUE constraint failed: authors.name"),
			unique: true,
		},
		{
			name: "sqlite_fk_string",
			err:  errors.New("FOREIGN KEY constraint failed"),
			fk:   true,
		},
		{
			name:   "wrapped_still_detected",
			err:    fmt.Errorf("insert author: %w", &pq.Error{Code: "23505"}),
			unique: true,
		},
		{
			name: "unrelated_error",
			err:  errors.New("connection refused"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.fk, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err))
		})
	}
}

func TestTranslateError(t *testing.T) {
	err := TranslateError(&pq.Error{Code: "23505"})
	assert.True(t, morph.IsConstraintError(err))

	plain := errors.New("disk full")
	assert.Equal(t, plain, TranslateError(plain))
	assert.NoError(t, TranslateError(nil))
}
