package work

// ProgressMonitor receives indexing progress notifications.
// Implementations must be safe for concurrent use: the mass indexer calls
// them from every worker.
type ProgressMonitor interface {
	// DocumentsAdded is called after n documents reached the index.
	DocumentsAdded(n int64)
	// EntitiesLoaded is called after n entities were read from the data store.
	EntitiesLoaded(n int64)
	// IndexingCompleted is called once when a rebuild finishes.
	IndexingCompleted()
}

// TotalCounter is implemented by monitors that want to know how many
// entities a rebuild is going to load before it starts.
type TotalCounter interface {
	AddToTotalCount(n int64)
}

// NopMonitor ignores every notification.
type NopMonitor struct{}

// DocumentsAdded implements ProgressMonitor.
func (NopMonitor) DocumentsAdded(int64) {}

// EntitiesLoaded implements ProgressMonitor.
func (NopMonitor) EntitiesLoaded(int64) {}

// IndexingCompleted implements ProgressMonitor.
func (NopMonitor) IndexingCompleted() {}

// MultiMonitor fans notifications out to several monitors in order.
type MultiMonitor []ProgressMonitor

// DocumentsAdded implements ProgressMonitor.
func (m MultiMonitor) DocumentsAdded(n int64) {
	for _, mon := range m {
		mon.DocumentsAdded(n)
	}
}

// EntitiesLoaded implements ProgressMonitor.
func (m MultiMonitor) EntitiesLoaded(n int64) {
	for _, mon := range m {
		mon.EntitiesLoaded(n)
	}
}

// IndexingCompleted implements ProgressMonitor.
func (m MultiMonitor) IndexingCompleted() {
	for _, mon := range m {
		mon.IndexingCompleted()
	}
}

// AddToTotalCount forwards to the monitors that implement TotalCounter.
func (m MultiMonitor) AddToTotalCount(n int64) {
	for _, mon := range m {
		if tc, ok := mon.(TotalCounter); ok {
			tc.AddToTotalCount(n)
		}
	}
}
