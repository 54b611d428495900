package bases

import (
	"context"
	"errors"
	"fmt"
)

type responseMessager interface {
	ResponseMessage() string
}

func errorMessage(err error, fallback string) string {
	var rm responseMessager
	if errors.As(err, &rm) && rm.ResponseMessage() != "" {
		return rm.ResponseMessage()
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

// FetchTables loads the table catalog of a base. Concurrent calls for the same
// base share one request.
func (s *Store) FetchTables(ctx context.Context, baseID string) (Base, error) {
	_, err, _ := s.flight.Do("tables:"+baseID, func() (any, error) {
		s.mu.Lock()
		s.basesLoading[baseID] = true
		delete(s.basesErrors, baseID)
		s.mu.Unlock()

		tables, err := s.source.ListTables(ctx, baseID)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.basesLoading[baseID] = false
		if err != nil {
			s.basesErrors[baseID] = errorMessage(err, "Failed to fetch tables")
			return nil, fmt.Errorf("fetch tables for base %s: %w", baseID, err)
		}
		s.setTablesLocked(baseID, tables)
		return nil, nil
	})
	if err != nil {
		return Base{}, err
	}
	base, _ := s.Base(baseID)
	return base, nil
}

// FetchTableRecords loads one page of records. An empty pageToken loads the first
// page and replaces the cache; a token continues pagination.
func (s *Store) FetchTableRecords(ctx context.Context, tableID, pageToken string) (RecordCache, error) {
	_, err, _ := s.flight.Do("records:"+tableID+"|"+pageToken, func() (any, error) {
		s.mu.Lock()
		state := s.stateLocked(tableID)
		state.Loading = true
		limit := state.PageSize
		delete(s.recordsErrors, tableID)
		s.mu.Unlock()

		page, err := s.source.ListRecords(ctx, tableID, pageToken, limit)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.stateLocked(tableID).Loading = false
			s.recordsErrors[tableID] = errorMessage(err, "Failed to fetch records")
			return nil, fmt.Errorf("fetch records for table %s: %w", tableID, err)
		}
		s.setTableRecordsLocked(tableID, page.Records, page.Total, page.NextPageToken, pageToken != "")
		return nil, nil
	})
	if err != nil {
		return RecordCache{}, err
	}
	cache, _ := s.Records(tableID)
	return cache, nil
}
