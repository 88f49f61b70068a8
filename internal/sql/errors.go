package sql

// ErrorKind enumerates the validation-error sub-kinds the engine reports.
type ErrorKind int

const (
	ErrTableNotFound ErrorKind = iota
	ErrColumnNotFound
	ErrAmbiguousColumn
	ErrDuplicateColumn
	ErrAggregateInWhere
	ErrStarWithGroupBy
	ErrNonAggregateNotInGroupBy
	ErrMixedAggregateAndRegular
	ErrHavingWithoutGroupBy
	ErrHavingWithoutAggregate
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTableNotFound:
		return "table-not-found"
	case ErrColumnNotFound:
		return "column-not-found"
	case ErrAmbiguousColumn:
		return "ambiguous-column"
	case ErrDuplicateColumn:
		return "duplicate-column"
	case ErrAggregateInWhere:
		return "aggregate-in-where"
	case ErrStarWithGroupBy:
		return "star-with-group-by"
	case ErrNonAggregateNotInGroupBy:
		return "non-aggregate-not-in-group-by"
	case ErrMixedAggregateAndRegular:
		return "mixed-aggregate-and-regular"
	case ErrHavingWithoutGroupBy:
		return "having-without-group-by"
	case ErrHavingWithoutAggregate:
		return "having-without-aggregate"
	default:
		return "unknown"
	}
}

// ValidationError is one validator finding: a kind, a one-line message
// naming the offending identifier, and an optional fuzzy-suggested
// alternative column name.
type ValidationError struct {
	Kind    ErrorKind
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	if e.Hint != "" {
		return e.Message + " (did you mean \"" + e.Hint + "\"?)"
	}
	return e.Message
}
