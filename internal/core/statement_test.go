package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStatement(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"terminated select", "SELECT 1;", false},
		{"trailing whitespace", "SELECT 1;  \n", false},
		{"missing terminator", "SELECT 1", true},
		{"empty", "", true},
		{"only spaces", "   \n\t", true},
		{"terminator only", ";", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStatement(tt.text)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestIsSelect(t *testing.T) {
	assert.True(t, IsSelect("SELECT 1;"))
	assert.True(t, IsSelect("  select * from t;"))
	assert.True(t, IsSelect("-- comment\nWITH x AS (SELECT 1) SELECT * FROM x;"))
	assert.True(t, IsSelect("/* hint */ (SELECT 1);"))
	assert.True(t, IsSelect("PRAGMA table_info(t);"))
	assert.False(t, IsSelect("INSERT INTO t VALUES (1);"))
	assert.False(t, IsSelect("create table t (id int);"))
	assert.False(t, IsSelect(""))
}

func TestTableQuery(t *testing.T) {
	assert.Equal(t, `SELECT * FROM "users";`, TableQuery("sqlite", "", "users", 0, OrderNone))
	assert.Equal(t, `SELECT * FROM "public"."users" LIMIT 100;`, TableQuery("postgres", "public", "users", 100, OrderNone))
	assert.Equal(t, `SELECT * FROM "users" ORDER BY 1 DESC LIMIT 100;`, TableQuery("sqlite", "", "users", 100, OrderDesc))
	assert.Equal(t, "SELECT * FROM `shop`.`orders` LIMIT 5;", TableQuery("mysql", "shop", "orders", 5, OrderNone))
	assert.Equal(t, "SELECT TOP 10 * FROM [dbo].[orders] ORDER BY 1 DESC;", TableQuery("sqlserver", "dbo", "orders", 10, OrderDesc))
	assert.Equal(t, `SELECT * FROM "we""ird";`, TableQuery("sqlite", "", `we"ird`, 0, OrderNone))

	// Generated statements must pass the submit check.
	assert.NoError(t, ValidateStatement(TableQuery("pgx", "s", "t", 1, OrderAsc)))
}

func TestShortQuery(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t;", ShortQuery("SELECT *\n  FROM t;"))

	long := "SELECT " + strings.Repeat("col, ", 30) + "x FROM t;"
	short := ShortQuery(long)
	assert.Len(t, short, previewLen+3)
	assert.True(t, strings.HasSuffix(short, "..."))
}

func TestOutcomeSummaryAndStatus(t *testing.T) {
	ok := SuccessOutcome(&Result{Columns: []string{"1"}, Rows: [][]any{{1}}, RowCount: 1, IsSelect: true}, 1500*time.Millisecond)
	assert.Equal(t, StatusSuccess, ok.Status())
	assert.Equal(t, "Query executed successfully | Total rows: 1 | Time: 1.50 sec", ok.Summary())

	cmd := SuccessOutcome(&Result{RowCount: 3}, time.Second)
	assert.Contains(t, cmd.Summary(), "Rows affected: 3")

	assert.Equal(t, StatusFailed, FailureOutcome(errors.New("boom")).Status())
	assert.Equal(t, "Error: boom", FailureOutcome(errors.New("boom")).Summary())
	assert.Equal(t, StatusCancelled, CancelledOutcome().Status())

	to := TimedOutOutcome(60 * time.Second)
	assert.Equal(t, StatusTimedOut, to.Status())
	assert.Equal(t, float64(60), to.LimitSeconds())
	assert.Equal(t, "Error: Query timed out after 60 seconds.", to.Summary())
}

func TestConnectionLabel(t *testing.T) {
	j := JoinedConnection{Category: "Prod", Group: "EU", Connection: ConnectionDescriptor{Name: "orders"}}
	assert.Equal(t, "Prod -> EU -> orders", j.Label())
}
