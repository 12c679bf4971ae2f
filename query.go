package dropmail

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// GetEmailsForAddress lists the unexpired inbox entries for address.
// The address is normalized, so lookups are case-insensitive.
func (s *service) GetEmailsForAddress(ctx context.Context, address string) ([]InboxSummary, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	address = NormalizeAddress(address)

	ctx, endSpan := s.otel.startSpan(ctx, "dropmail.list",
		attribute.String("address", address),
	)
	start := time.Now()
	var list []InboxSummary
	var listErr error
	defer func() {
		endSpan(listErr)
		s.otel.recordList(ctx, time.Since(start), len(list), listErr)
	}()

	if address == "" {
		list = []InboxSummary{}
		return list, nil
	}

	list, listErr = s.store.ListByAddress(ctx, address, s.opts.now())
	if listErr != nil {
		listErr = storageErr("list", listErr)
		return nil, listErr
	}

	if list == nil {
		list = []InboxSummary{}
	}
	if n := s.opts.maxListResults; n > 0 && len(list) > n {
		list = list[:n]
	}
	return list, nil
}

// GetInboxByID returns one unexpired inbox entry with its bodies.
func (s *service) GetInboxByID(ctx context.Context, entryID string) (*InboxDetail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "dropmail.get",
		attribute.String("entry_id", entryID),
	)
	start := time.Now()
	var getErr error
	defer func() {
		endSpan(getErr)
		s.otel.recordGet(ctx, time.Since(start), getErr)
	}()

	if entryID == "" {
		getErr = ErrNotFound
		return nil, getErr
	}

	detail, err := s.store.GetByEntryID(ctx, entryID, s.opts.now())
	if err != nil {
		getErr = storageErr("get", err)
		return nil, getErr
	}
	return detail, nil
}
