package ops

// Metadata is the kind-specific mutable payload attached to an operation.
// The set of implementations is closed and keyed by Kind; callers switch on
// the concrete type rather than inspecting it reflectively. Mutation happens
// only through Registry.UpdateMetadata, which holds the operation's lock.
type Metadata interface {
	// Clone returns a deep copy safe to hand to readers and sinks.
	Clone() Metadata
}

// GameRemovalMetadata counts cache artifacts removed for one game.
type GameRemovalMetadata struct {
	AppID             uint32   `json:"appId"`
	GameName          string   `json:"gameName"`
	FilesDeleted      int64    `json:"filesDeleted"`
	BytesFreed        int64    `json:"bytesFreed"`
	EmptyDirsRemoved  int64    `json:"emptyDirsRemoved"`
	LogEntriesRemoved int64    `json:"logEntriesRemoved"`
	DepotIDs          []uint32 `json:"depotIds,omitempty"`
}

// Clone implements Metadata.
func (m *GameRemovalMetadata) Clone() Metadata {
	cp := *m
	cp.DepotIDs = append([]uint32(nil), m.DepotIDs...)
	return &cp
}

// DataImportMetadata tracks a bulk import from a prior installation.
type DataImportMetadata struct {
	Directory       string `json:"directory,omitempty"`
	EntriesImported int64  `json:"entriesImported"`
	EntriesSkipped  int64  `json:"entriesSkipped"`
	BytesProcessed  int64  `json:"bytesProcessed"`
}

// Clone implements Metadata.
func (m *DataImportMetadata) Clone() Metadata {
	cp := *m
	return &cp
}

// DepotRebuildMetadata tracks a depot-to-app mapping rebuild.
type DepotRebuildMetadata struct {
	AppsScanned     int64 `json:"appsScanned"`
	TotalApps       int64 `json:"totalApps"`
	MappingsCreated int64 `json:"mappingsCreated"`
}

// Clone implements Metadata.
func (m *DepotRebuildMetadata) Clone() Metadata {
	cp := *m
	return &cp
}

// LogProcessingMetadata tracks an access-log reprocessing pass.
type LogProcessingMetadata struct {
	LinesParsed    int64 `json:"linesParsed"`
	EntriesSaved   int64 `json:"entriesSaved"`
	MalformedLines int64 `json:"malformedLines"`
}

// Clone implements Metadata.
func (m *LogProcessingMetadata) Clone() Metadata {
	cp := *m
	return &cp
}

// ServiceLogRemovalMetadata tracks log purging for one CDN service.
type ServiceLogRemovalMetadata struct {
	Service      string `json:"service"`
	LinesRemoved int64  `json:"linesRemoved"`
}

// Clone implements Metadata.
func (m *ServiceLogRemovalMetadata) Clone() Metadata {
	cp := *m
	return &cp
}

// DatabaseResetMetadata records which tables a reset has cleared so far.
type DatabaseResetMetadata struct {
	TablesCleared []string `json:"tablesCleared,omitempty"`
	TotalTables   int64    `json:"totalTables"`
}

// Clone implements Metadata.
func (m *DatabaseResetMetadata) Clone() Metadata {
	cp := *m
	cp.TablesCleared = append([]string(nil), m.TablesCleared...)
	return &cp
}
