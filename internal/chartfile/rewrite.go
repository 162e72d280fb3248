package chartfile

import (
	"regexp"
	"strconv"
	"strings"
)

var placeholderIdentifierPattern = regexp.MustCompile(`(?i)\b(CHART_SET_ID|CHART_ID)\s*=\s*-1\b`)

// RewriteIdentifiers replaces placeholder CHART_SET_ID/CHART_ID assignments
// with the persisted identifiers. Keys are matched case-insensitively and the
// replacement is always written in canonical upper case.
func RewriteIdentifiers(raw []byte, setID, chartID int64) []byte {
	return placeholderIdentifierPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		key := placeholderIdentifierPattern.FindSubmatch(match)[1]
		if strings.EqualFold(string(key), "CHART_SET_ID") {
			return []byte("CHART_SET_ID = " + strconv.FormatInt(setID, 10))
		}
		return []byte("CHART_ID = " + strconv.FormatInt(chartID, 10))
	})
}
