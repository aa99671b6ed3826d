package server

import "strings"

// Diff computes a line diff between two texts using the longest common
// subsequence. Removed lines carry a "< " prefix, added lines a "> "
// prefix, and within a hunk the two sides are separated by "---".
// Identical texts produce the empty string.
func Diff(oldText, newText string) string {
	a := diffLines(oldText)
	b := diffLines(newText)

	// LCS lengths, computed backward so lcs[i][j] is the length for
	// the suffixes a[i:] and b[j:].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var out strings.Builder
	var removed, added []string
	flush := func() {
		if len(removed) == 0 && len(added) == 0 {
			return
		}
		for _, l := range removed {
			out.WriteString("< ")
			out.WriteString(l)
			out.WriteByte('\n')
		}
		if len(removed) > 0 && len(added) > 0 {
			out.WriteString("---\n")
		}
		for _, l := range added {
			out.WriteString("> ")
			out.WriteString(l)
			out.WriteByte('\n')
		}
		removed, added = nil, nil
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			flush()
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			removed = append(removed, a[i])
			i++
		default:
			added = append(added, b[j])
			j++
		}
	}
	removed = append(removed, a[i:]...)
	added = append(added, b[j:]...)
	flush()
	return out.String()
}

func diffLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
