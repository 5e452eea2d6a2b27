package models

import "fmt"

type TableType string

const (
	TableTypeTable            TableType = "TABLE"
	TableTypeExternal         TableType = "EXTERNAL"
	TableTypeSnapshot         TableType = "SNAPSHOT"
	TableTypeView             TableType = "VIEW"
	TableTypeMaterializedView TableType = "MATERIALIZED_VIEW"
)

// TableID identifies a table within a project and dataset.
type TableID struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

func NewTableID(project, dataset, table string) TableID {
	return TableID{Project: project, Dataset: dataset, Table: table}
}

// Path returns the fully qualified resource path of the table.
func (t TableID) Path() string {
	return fmt.Sprintf("projects/%s/datasets/%s/tables/%s", t.Project, t.Dataset, t.Table)
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// TableInfo is the resolved metadata of a table as reported by the catalog.
type TableInfo struct {
	ID           TableID
	Type         TableType
	FriendlyName string
	NumRows      int64
}

// IsReadable reports whether a session can be created directly over the
// table, without materialization.
func (t *TableInfo) IsReadable() bool {
	switch t.Type {
	case TableTypeTable, TableTypeExternal, TableTypeSnapshot:
		return true
	default:
		return false
	}
}
