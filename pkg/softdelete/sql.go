package softdelete

// LiveClause is the SQL predicate selecting live rows. alias qualifies the
// column when the query joins several soft-deletable tables.
//
//	"SELECT ... FROM workspaces w WHERE w.id = $1 AND " + softdelete.LiveClause("w")
func LiveClause(alias string) string {
	return column(alias) + " IS NULL"
}

// DeletedClause is the SQL predicate selecting rows in the trash.
func DeletedClause(alias string) string {
	return column(alias) + " IS NOT NULL"
}

// PurgeClause selects deleted rows older than a cutoff bound to the given
// placeholder, e.g. PurgeClause("", "$1").
func PurgeClause(alias, placeholder string) string {
	return DeletedClause(alias) + " AND " + column(alias) + " < " + placeholder
}

func column(alias string) string {
	if alias == "" {
		return Column
	}
	return alias + "." + Column
}
