package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"lot_harvester/models"
)

var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Fingerprint hashes the mutable content of a lot. Two records with the same
// fingerprint differ at most in whitespace or letter case.
func Fingerprint(rec *models.DetailRecord) string {
	desc := ""
	if rec.Description != nil {
		desc = *rec.Description
	}

	input := fmt.Sprintf("%s|%s|%d|%d|%s|%s|%s",
		NormalizeText(rec.Server),
		NormalizeText(rec.Rank),
		rec.AgentsCount,
		rec.SkinsCount,
		NormalizeText(rec.Title),
		NormalizeText(desc),
		strconv.FormatFloat(rec.Price, 'f', 2, 64),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return multiSpaceRegex.ReplaceAllString(s, " ")
}
