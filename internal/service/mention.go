package service

import (
	"regexp"
	"sort"
	"strconv"
)

// Inline mention token, e.g. "@user:42". The composer also sends a structured
// mention list; the pipeline unions both because older clients only emit the
// inline form.
var mentionPattern = regexp.MustCompile(`@user:(\d+)`)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractMentions merges the structured mention list with inline tokens found
// in the body into a deduplicated, sorted set of user ids. The author is
// excluded: mentioning yourself never targets a notification.
func ExtractMentions(body string, structured []uint, authorID uint) []uint {
	seen := make(map[uint]bool)
	for _, id := range structured {
		if id != 0 && id != authorID {
			seen[id] = true
		}
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(body, -1) {
		id, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			continue
		}
		if uint(id) != 0 && uint(id) != authorID {
			seen[uint(id)] = true
		}
	}

	out := make([]uint, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExtractURLs returns the unique URLs in a body, in order of first appearance.
func ExtractURLs(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range urlPattern.FindAllString(body, -1) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
