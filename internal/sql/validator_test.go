package sql

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reldb/reldb/internal/config"
	"github.com/reldb/reldb/internal/logger"
)

type fakeCatalog struct {
	tables map[string][]string
}

func (c fakeCatalog) HasTable(name string) bool { _, ok := c.tables[name]; return ok }
func (c fakeCatalog) Columns(name string) []string { return c.tables[name] }

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError, "[test]")
}

func TestValidateCreateTableRejectsDuplicateColumns(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cmd := CreateTable{Table: "t", Columns: []ColumnDef{{Name: "id"}, {Name: "id"}}}
	err := v.Validate(cmd, fakeCatalog{tables: map[string][]string{}})
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Equal(t, ErrDuplicateColumn, ve.Kind)
}

func TestValidateSelectRejectsUnknownTable(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cmd := Select{Star: true, Table: "ghost"}
	err := v.Validate(cmd, fakeCatalog{tables: map[string][]string{}})
	require.Error(t, err)
	require.Equal(t, ErrTableNotFound, err.(*ValidationError).Kind)
}

func TestValidateSelectRejectsStarWithGroupBy(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"t": {"a", "b"}}}
	cmd := Select{Star: true, Table: "t", GroupBy: []Expr{ColumnRef{Column: "a"}}}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrStarWithGroupBy, err.(*ValidationError).Kind)
}

func TestValidateSelectRejectsAggregateInWhere(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"t": {"a"}}}
	cmd := Select{
		Items: []SelectItem{{Expr: ColumnRef{Column: "a"}}},
		Table: "t",
		Where: Compare{Op: OpGt, Left: Aggregate{Func: AggCount}, Right: Literal{}},
	}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrAggregateInWhere, err.(*ValidationError).Kind)
}

func TestValidateSelectRequiresHavingGroupBy(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"t": {"a"}}}
	cmd := Select{
		Items:  []SelectItem{{Expr: ColumnRef{Column: "a"}}},
		Table:  "t",
		Having: Compare{Op: OpGt, Left: Aggregate{Func: AggCount}, Right: Literal{}},
	}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrHavingWithoutGroupBy, err.(*ValidationError).Kind)
}

func TestValidateSelectRejectsHavingWithoutAggregate(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"t": {"a"}}}
	cmd := Select{
		Items:   []SelectItem{{Expr: ColumnRef{Column: "a"}}},
		Table:   "t",
		GroupBy: []Expr{ColumnRef{Column: "a"}},
		Having:  Compare{Op: OpGt, Left: ColumnRef{Column: "a"}, Right: Literal{}},
	}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrHavingWithoutAggregate, err.(*ValidationError).Kind)
}

func TestValidateSelectRejectsNonAggregateNotInGroupBy(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"users": {"department", "name"}}}
	cmd := Select{
		Items: []SelectItem{
			{Expr: ColumnRef{Column: "name"}},
			{Expr: Aggregate{Func: AggCount}},
		},
		Table:   "users",
		GroupBy: []Expr{ColumnRef{Column: "department"}},
	}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrNonAggregateNotInGroupBy, err.(*ValidationError).Kind)
}

func TestValidateSelectRejectsAmbiguousColumnAcrossJoin(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{
		"orders":    {"id", "customer_id"},
		"customers": {"id", "name"},
	}}
	cmd := Select{
		Items: []SelectItem{{Expr: ColumnRef{Column: "id"}}},
		Table: "orders",
		Joins: []Join{{Table: "customers", Type: JoinInner, On: Literal{}}},
	}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrAmbiguousColumn, err.(*ValidationError).Kind)
}

func TestValidateColumnNotFoundCarriesFuzzySuggestion(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"users": {"department", "name"}}}
	cmd := Select{Items: []SelectItem{{Expr: ColumnRef{Column: "departement"}}}, Table: "users"}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	ve := err.(*ValidationError)
	require.Equal(t, ErrColumnNotFound, ve.Kind)
	require.Equal(t, "department", ve.Hint)
}

func TestValidateWarningsModeLogsAndProceeds(t *testing.T) {
	v := New(config.ValidationWarnings, testLogger())
	cmd := Select{Star: true, Table: "ghost"}
	err := v.Validate(cmd, fakeCatalog{tables: map[string][]string{}})
	require.NoError(t, err)
}

func TestValidateDisabledModeSkipsAllChecks(t *testing.T) {
	v := New(config.ValidationDisabled, testLogger())
	cmd := CreateTable{Table: "t", Columns: []ColumnDef{{Name: "id"}, {Name: "id"}}}
	err := v.Validate(cmd, fakeCatalog{tables: map[string][]string{}})
	require.NoError(t, err)
}

func TestValidateInsertRejectsDuplicateAndUnknownColumns(t *testing.T) {
	v := New(config.ValidationStrict, testLogger())
	cat := fakeCatalog{tables: map[string][]string{"accounts": {"id", "balance"}}}
	cmd := Insert{Table: "accounts", Columns: []string{"id", "id"}, Values: []Expr{Literal{}, Literal{}}}
	err := v.Validate(cmd, cat)
	require.Error(t, err)
	require.Equal(t, ErrDuplicateColumn, err.(*ValidationError).Kind)
}
