package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

var fragmentSeparator = regexp.MustCompile(`\]\s*\{`)

// Repair reads the log file and, if it is not valid parseable content (for
// example truncated by a crash mid-rewrite), attempts a best-effort structural
// fix before re-persisting it. If the fix still does not yield a JSON array
// the ledger is reset to empty; the data loss is logged, not fatal.
//
// Returns the entries now on disk and whether a repair was applied.
func Repair(path string) ([]Entry, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeAndSync(path, []byte("[]")); werr != nil {
			return nil, false, werr
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ledger: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, false, nil
	}

	fixed := repairContent(string(raw))

	if err := json.Unmarshal([]byte(fixed), &entries); err != nil {
		log.Error().
			Str("path", path).
			Int("bytes_discarded", len(raw)).
			Msg("Ledger file unrecoverable, starting empty")
		if werr := writeAndSync(path, []byte("[]")); werr != nil {
			return nil, false, werr
		}
		return nil, true, nil
	}

	out, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode repaired ledger: %w", err)
	}
	if err := writeAndSync(path, out); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// repairContent applies the structural fixes: join concatenated array
// fragments, trim trailing separators, and wrap in array delimiters.
func repairContent(content string) string {
	content = fragmentSeparator.ReplaceAllString(content, "}, {")
	content = strings.TrimSpace(content)
	content = strings.TrimRight(content, ",")

	if !strings.HasPrefix(content, "[") {
		content = "[" + content
	}
	if !strings.HasSuffix(content, "]") {
		content += "]"
	}
	return content
}
