package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one parsed inbound notification from a subscribed channel.
type Event struct {
	Channel    string
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// dedupKey is fixed per channel: every event on a channel pages the same
// incident, and the paging service's own dedup window decides whether
// that re-notifies or opens fresh.
func dedupKey(channel string) string {
	return "gmocoin:" + channel
}

// summaryFor renders the incident summary line from the decoded event
// fields. Unknown channels get a generic line rather than no alert.
func summaryFor(channel string, fields map[string]any) string {
	symbol := stringField(fields, "symbol")
	side := stringField(fields, "side")

	switch channel {
	case "executionEvents":
		return fmt.Sprintf("GMO Coin execution %s %s orderId=%s executionId=%s price=%s size=%s",
			symbol, side,
			stringField(fields, "orderId"),
			stringField(fields, "executionId"),
			stringField(fields, "executionPrice"),
			stringField(fields, "executionSize"))
	case "orderEvents":
		return fmt.Sprintf("GMO Coin order %s %s orderId=%s status=%s price=%s size=%s",
			symbol, side,
			stringField(fields, "orderId"),
			stringField(fields, "orderStatus"),
			stringField(fields, "orderPrice"),
			stringField(fields, "orderSize"))
	default:
		return fmt.Sprintf("GMO Coin %s event", channel)
	}
}

// stringField renders one event field for the summary. The exchange
// sends numbers both as JSON strings and as JSON numbers depending on
// the field, so both are normalized here.
func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return "?"
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
