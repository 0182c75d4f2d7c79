package ingest

import "strings"

// Chunk sizes are in characters (runes).
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

var sentenceEnds = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// Chunk splits text into overlapping pieces of at most size runes. A piece
// ends at the last paragraph break, else sentence end, else space found in
// its final quarter, unless that boundary falls before the halfway point.
// Every rune of text is covered by at least one chunk (modulo trimmed
// whitespace) and consecutive chunks overlap by at most overlap runes.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	r := []rune(text)
	n := len(r)
	var chunks []string
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			if c := strings.TrimSpace(string(r[start:])); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		searchFrom := max(start, end-size/4)
		cut := -1
		if p := lastIndex(r, searchFrom, end, "\n\n"); p >= 0 {
			cut = p + 2
		} else {
			for _, punct := range sentenceEnds {
				if p := lastIndex(r, searchFrom, end, punct); p >= 0 {
					cut = p + len(punct)
					break
				}
			}
		}
		if cut < 0 {
			if p := lastIndex(r, searchFrom, end, " "); p >= 0 {
				cut = p + 1
			}
		}
		if cut < 0 || cut < start+size/2 {
			cut = end
		}

		if c := strings.TrimSpace(string(r[start:cut])); c != "" {
			chunks = append(chunks, c)
		}
		start = max(start+1, cut-overlap)
	}
	return chunks
}

// lastIndex finds the last occurrence of pat lying entirely inside r[lo:hi]
// and returns its rune offset, or -1. pat must be ASCII.
func lastIndex(r []rune, lo, hi int, pat string) int {
	m := len(pat)
	for i := hi - m; i >= lo; i-- {
		ok := true
		for j := 0; j < m; j++ {
			if r[i+j] != rune(pat[j]) {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}
