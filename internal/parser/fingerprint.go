package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"watchdata/internal/models"
)

// Fingerprint returns the content hash used to deduplicate records:
// sha256 over source type, start, end, value, unit, source name and version.
func Fingerprint(r *models.Record) string {
	key := strings.Join([]string{
		r.SourceType,
		r.StartISO(),
		r.EndISO(),
		strconv.FormatFloat(r.Value, 'f', -1, 64),
		r.Unit,
		r.SourceName,
		r.SourceVersion,
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
