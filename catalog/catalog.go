package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neko940709/mapd-core-stream/common"
)

// Catalog manages table and column metadata and provides fast lookups.
// The catalog is serialized as a single JSON blob through a PersistenceProvider.
//
// The catalog is immutable while queries run: a join hash table build reads
// column types, dictionary ids and shard layout from it without locking.
type Catalog struct {
	catalogState

	// In-memory structures for fast lookups
	tableMap map[string]*Table          // TableName -> Table
	oidMap   map[common.ObjectID]*Table // TableOid -> Table
}

// Column describes one physical (or virtual) column of a table.
type Column struct {
	Oid  common.ObjectID `json:"oid"`
	Name string          `json:"name"`
	Type common.Type     `json:"type"`
	// DictOid names the string dictionary that encodes a DictStringType column.
	DictOid common.ObjectID `json:"dict_oid,omitempty"`
	// Virtual columns (rowid) have no backing chunks.
	Virtual bool `json:"virtual,omitempty"`
}

// Table groups columns under a unique ObjectID. A sharded table partitions its
// fragments by ShardColumn into ShardCount shards.
type Table struct {
	Oid         common.ObjectID `json:"oid"`
	Name        string          `json:"name"`
	Columns     []Column        `json:"columns"`
	ShardCount  int             `json:"shard_count,omitempty"`
	ShardColumn string          `json:"shard_column,omitempty"`
}

// TableOptions carries the optional physical layout of a new table.
type TableOptions struct {
	ShardCount  int
	ShardColumn string
}

// PersistenceProvider abstracts how the catalog is saved to and loaded from disk.
type PersistenceProvider interface {
	LoadCatalogState() (json string, err error)
	SaveCatalogState(json string) error
}

func (t *Table) String() string {
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

// Column returns the column with the given oid.
func (t *Table) Column(oid common.ObjectID) (*Column, error) {
	for i := range t.Columns {
		if t.Columns[i].Oid == oid {
			return &t.Columns[i], nil
		}
	}
	return nil, common.NewJoinError(common.NoSuchObjectError, "column %d does not exist in table '%s'", oid, t.Name)
}

// ColumnByName returns the column with the given name.
func (t *Table) ColumnByName(name string) (*Column, error) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], nil
		}
	}
	return nil, common.NewJoinError(common.NoSuchObjectError, "column '%s' does not exist in table '%s'", name, t.Name)
}

// IsSharded reports whether fragments of this table belong to shards.
func (t *Table) IsSharded() bool {
	return t.ShardCount > 1
}

// IsShardColumn reports whether the given column is the shard key.
func (t *Table) IsShardColumn(oid common.ObjectID) bool {
	if !t.IsSharded() {
		return false
	}
	c, err := t.Column(oid)
	return err == nil && c.Name == t.ShardColumn
}

type catalogState struct {
	NextId uint32   `json:"next_id"`
	Tables []*Table `json:"tables"`
}

func (c *Catalog) String() string {
	b, _ := json.MarshalIndent(c, "", "  ")
	return string(b)
}

func (c *Catalog) toJSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Catalog) fromJSON(jsonData string) error {
	if err := json.Unmarshal([]byte(jsonData), c); err != nil {
		return err
	}
	for _, t := range c.Tables {
		c.tableMap[t.Name] = t
		c.oidMap[t.Oid] = t
	}
	return nil
}

// NewCatalog initializes a catalog. It attempts to load existing state
// from the provider; if no state exists, it starts with an empty database.
func NewCatalog(provider PersistenceProvider) (*Catalog, error) {
	result := &Catalog{
		catalogState: catalogState{
			NextId: 0,
			Tables: make([]*Table, 0),
		},
		tableMap: make(map[string]*Table),
		oidMap:   make(map[common.ObjectID]*Table),
	}

	jsonData, err := provider.LoadCatalogState()
	if errors.Is(err, os.ErrNotExist) {
		// Start from scratch
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if err = result.fromJSON(jsonData); err != nil {
		// Parsing errors are fatal system errors, usually indicating corruption
		return nil, fmt.Errorf("failed to parse catalog state: %v", err)
	}

	return result, nil
}

func (c *Catalog) nextOid() common.ObjectID {
	// oid 0 is reserved for INVALID
	c.NextId++
	return common.ObjectID(c.NextId)
}

// AddTable registers a new table in the catalog.
// It assigns globally unique ObjectIDs to the table and each of its columns and
// persists the updated state. If the table with that name already exists, it
// returns DuplicateObjectError.
func (c *Catalog) AddTable(tableName string, columns []Column, opts TableOptions, provider PersistenceProvider) (*Table, error) {
	if _, exists := c.tableMap[tableName]; exists {
		return nil, common.NewJoinError(common.DuplicateObjectError, "table '%s' already exists", tableName)
	}

	t := &Table{
		Oid:         c.nextOid(),
		Name:        tableName,
		Columns:     make([]Column, len(columns)),
		ShardCount:  opts.ShardCount,
		ShardColumn: opts.ShardColumn,
	}
	copy(t.Columns, columns)
	for i := range t.Columns {
		t.Columns[i].Oid = c.nextOid()
	}
	if t.IsSharded() {
		if _, err := t.ColumnByName(t.ShardColumn); err != nil {
			return nil, err
		}
	}

	c.Tables = append(c.Tables, t)
	c.tableMap[tableName] = t
	c.oidMap[t.Oid] = t

	jsonData, err := c.toJSON()
	if err != nil {
		return nil, err
	}
	return t, provider.SaveCatalogState(jsonData)
}

// GetTableMetadata fetches the schema for a specific table name.
func (c *Catalog) GetTableMetadata(tableName string) (*Table, error) {
	table, exists := c.tableMap[tableName]
	if !exists {
		return nil, common.NewJoinError(common.NoSuchObjectError, "table '%s' does not exist", tableName)
	}
	return table, nil
}

// GetTableByOid fetches the schema for a table oid.
func (c *Catalog) GetTableByOid(oid common.ObjectID) (*Table, error) {
	table, exists := c.oidMap[oid]
	if !exists {
		return nil, common.NewJoinError(common.NoSuchObjectError, "table %d does not exist", oid)
	}
	return table, nil
}

// GetColumn resolves a (table, column) pair.
func (c *Catalog) GetColumn(tableOid, columnOid common.ObjectID) (*Table, *Column, error) {
	table, err := c.GetTableByOid(tableOid)
	if err != nil {
		return nil, nil, err
	}
	col, err := table.Column(columnOid)
	if err != nil {
		return nil, nil, err
	}
	return table, col, nil
}

const CatalogFileName = "catalog.json"

type DiskCatalogManager struct {
	rootPath string
}

func NewDiskCatalogManager(rootPath string) *DiskCatalogManager {
	return &DiskCatalogManager{
		rootPath: rootPath,
	}
}

// LoadCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) LoadCatalogState() (string, error) {
	content, err := os.ReadFile(filepath.Join(dcm.rootPath, CatalogFileName))
	if err != nil {
		return "", err // Let the caller (Catalog) handle os.ErrNotExist
	}
	return string(content), nil
}

// SaveCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) SaveCatalogState(jsonData string) error {
	tmpPath := filepath.Join(dcm.rootPath, CatalogFileName+".tmp")
	finalPath := filepath.Join(dcm.rootPath, CatalogFileName)

	if err := os.WriteFile(tmpPath, []byte(jsonData), 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// MemCatalogManager keeps catalog state in memory. It is used for temporary
// engines and tests.
type MemCatalogManager struct {
	state string
}

func (m *MemCatalogManager) LoadCatalogState() (string, error) {
	if m.state == "" {
		return "", os.ErrNotExist
	}
	return m.state, nil
}

func (m *MemCatalogManager) SaveCatalogState(jsonData string) error {
	m.state = jsonData
	return nil
}
