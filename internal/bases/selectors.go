package bases

type Snapshot struct {
	Bases        map[string]Base         `json:"bases"`
	Records      map[string]RecordCache  `json:"records"`
	RecordsState map[string]RecordsState `json:"recordsState"`
}

func (s *Store) Base(baseID string) (Base, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base := s.bases[baseID]
	if base == nil {
		return Base{}, false
	}
	return base.clone(), true
}

// BaseStatus reports whether the catalog of baseID is loading and the last fetch error.
func (s *Store) BaseStatus(baseID string) (loading bool, errMsg string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basesLoading[baseID], s.basesErrors[baseID]
}

func (s *Store) Records(tableID string) (RecordCache, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cache := s.records[tableID]
	if cache == nil {
		return RecordCache{}, false
	}
	return RecordCache{Items: cloneRecords(cache.Items), Total: cache.Total}, true
}

func (s *Store) RecordsState(tableID string) (RecordsState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.recordsState[tableID]
	if state == nil {
		return RecordsState{}, false
	}
	return *state, true
}

func (s *Store) RecordsError(tableID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsErrors[tableID]
}

// TableIDs lists every table with cached records.
func (s *Store) TableIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Bases:        make(map[string]Base, len(s.bases)),
		Records:      make(map[string]RecordCache, len(s.records)),
		RecordsState: make(map[string]RecordsState, len(s.recordsState)),
	}
	for id, base := range s.bases {
		snap.Bases[id] = base.clone()
	}
	for id, cache := range s.records {
		snap.Records[id] = RecordCache{Items: cloneRecords(cache.Items), Total: cache.Total}
	}
	for id, state := range s.recordsState {
		snap.RecordsState[id] = *state
	}
	return snap
}

// HasRecords reports whether tableID has a record cache.
func (s *Store) HasRecords(tableID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[tableID] != nil
}

// Record returns a copy of one cached record.
func (s *Store) Record(tableID string, recordID any) (Record, bool) {
	key := recordKey(recordID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cache := s.records[tableID]
	if cache == nil || key == "" {
		return nil, false
	}
	for _, record := range cache.Items {
		if record.ID() == key {
			return record.clone(), true
		}
	}
	return nil, false
}
