package repository

import (
	"encoding/json"

	"chat_sync_service/pkg/errs"
)

// extractPayload digs the value for key out of a loosely shaped response
// envelope. The backend is inconsistent about nesting (payload at the
// top level, under data, or under data.data), so tolerance for the
// variation lives here and nowhere else. A descent that bottoms out on a
// non-object (typically data holding the payload array directly) returns
// that node.
func extractPayload(raw []byte, key string) (json.RawMessage, error) {
	node := json.RawMessage(raw)
	for depth := 0; depth < 3; depth++ {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(node, &m); err != nil {
			if depth == 0 {
				return nil, errs.New(errs.KindParse, "response envelope", err)
			}
			return node, nil
		}
		if v, ok := m[key]; ok && key != "" {
			return v, nil
		}
		if v, ok := m["data"]; ok {
			node = v
			continue
		}
		if key == "" {
			return node, nil
		}
		return nil, errs.Newf(errs.KindParse, "response envelope", "missing %q in response", key)
	}
	return node, nil
}

// decodePayload extracts and unmarshals in one step.
func decodePayload(raw []byte, key string, out interface{}) error {
	payload, err := extractPayload(raw, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errs.New(errs.KindParse, "response payload", err)
	}
	return nil
}
