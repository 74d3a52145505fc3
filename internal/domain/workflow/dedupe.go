package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/consultaflow/dispatcher/internal/domain/model"
)

// NormalizeFunc maps a raw payload item to an entry; false drops it.
type NormalizeFunc func(model.RawEntry) (model.ResultEntry, bool)

// DistinctEntries normalizes raws and keeps the first entry for each unique
// (status, description, value) tuple, preserving order.
func DistinctEntries(raws []model.RawEntry, normalize NormalizeFunc) []model.ResultEntry {
	seen := make(map[string]struct{}, len(raws))
	out := make([]model.ResultEntry, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		entry, ok := normalize(raw)
		if !ok {
			continue
		}
		key := EntryHash(entry)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out
}

// EntryHash is the structural identity of an entry.
func EntryHash(e model.ResultEntry) string {
	value := ""
	if e.Value != nil {
		value = strconv.FormatFloat(*e.Value, 'f', 2, 64)
	}
	b, err := json.Marshal([3]string{
		strings.ToUpper(strings.TrimSpace(e.Status)),
		strings.TrimSpace(e.Description),
		value,
	})
	if err != nil {
		// Marshaling three strings cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
