package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

func decodeJSONObject(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isFsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// collapseWhitespace lowercases and collapses runs of whitespace to a
// single space, used by the task fingerprint (spec.md §4.D).
func collapseWhitespace(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}

func fingerprint(owner, workstream, title string) string {
	return strings.ToLower(strings.TrimSpace(owner)) + "|" +
		strings.ToLower(strings.TrimSpace(workstream)) + "|" +
		collapseWhitespace(title)
}

func newID(prefix string) string {
	return prefix + "-" + uuidHex10()
}

func uuidHex10() string {
	id := uuid.New()
	hex := fmt.Sprintf("%x", id[:])
	if len(hex) > 10 {
		return hex[:10]
	}
	return hex
}
