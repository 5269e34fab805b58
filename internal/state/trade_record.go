package state

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const tradeKeyPrefix = "trade:"

// TradeRecord is the crash-visibility snapshot of an in-flight trade.
// Decimal values ride as exact strings. Records are deleted once the
// trade reaches a terminal status, so the store only ever holds open
// work.
type TradeRecord struct {
	TradeID      string  `msgpack:"trade_id"`
	AccountID    string  `msgpack:"account_id"`
	Symbol       string  `msgpack:"symbol"`
	Side         string  `msgpack:"side"`
	Status       string  `msgpack:"status"`
	Quantity     string  `msgpack:"quantity"`
	EntryPrice   string  `msgpack:"entry_price"`
	EntryOrderID int64   `msgpack:"entry_order_id"`
	ExitOrderIDs []int64 `msgpack:"exit_order_ids"`
	UpdatedAtMS  int64   `msgpack:"updated_at_ms"`
}

// TradeKey returns the store key for a trade snapshot.
func TradeKey(tradeID string) string {
	return tradeKeyPrefix + tradeID
}

func SaveTradeRecord(ctx context.Context, store Store, rec TradeRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec.UpdatedAtMS == 0 {
		rec.UpdatedAtMS = time.Now().UnixMilli()
	}
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, TradeKey(rec.TradeID), payload)
}

func LoadTradeRecord(ctx context.Context, store Store, tradeID string) (TradeRecord, bool, error) {
	if store == nil {
		return TradeRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, TradeKey(tradeID))
	if err != nil || !ok {
		return TradeRecord{}, false, err
	}
	var rec TradeRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return TradeRecord{}, false, err
	}
	return rec, true, nil
}

func DeleteTradeRecord(ctx context.Context, store Store, tradeID string) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Delete(ctx, TradeKey(tradeID))
}

// ListTradeRecords returns every decodable in-flight snapshot. Entries
// that fail to decode are skipped; a half-written record from a crash
// must not block startup.
func ListTradeRecords(ctx context.Context, store Store) ([]TradeRecord, error) {
	if store == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := store.List(ctx, tradeKeyPrefix)
	if err != nil {
		return nil, err
	}
	records := make([]TradeRecord, 0, len(raw))
	for _, payload := range raw {
		var rec TradeRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
