package libtracer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// The root report is UTF-8 text in two line-oriented sections. The first
// holds one "<store path>\t<external root>" line per root edge, the second
// one dead link per line; a single blank line separates them and is present
// even when both sections are empty. A reader that does not see the
// separator before EOF must treat the report as truncated.

// WriteReport serializes res onto w. Both sections are emitted in sorted
// order, which makes reports for an unchanged filesystem byte-identical.
func WriteReport(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)
	for _, storePath := range sortedKeys(res.Roots) {
		for _, root := range sortedSet(res.Roots[storePath]) {
			fmt.Fprintf(bw, "%s\t%s\n", storePath, root)
		}
	}
	bw.WriteByte('\n')
	for _, link := range sortedSet(res.DeadLinks) {
		fmt.Fprintf(bw, "%s\n", link)
	}
	return bw.Flush()
}

// ParseReport reads a root report back into a Result. It fails on malformed
// root lines and on reports truncated before the section separator.
func ParseReport(r io.Reader) (*Result, error) {
	res := NewResult()
	sc := bufio.NewScanner(r)
	sawSeparator := false
	for sc.Scan() {
		line := sc.Text()
		if !sawSeparator {
			if line == "" {
				sawSeparator = true
				continue
			}
			storePath, root, ok := strings.Cut(line, "\t")
			if !ok {
				return nil, fmt.Errorf("malformed root line %q", line)
			}
			res.Roots.Add(storePath, root)
			continue
		}
		if line == "" {
			return nil, errors.New("blank line inside dead-link section")
		}
		res.AddDeadLink(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawSeparator {
		return nil, errors.New("truncated report: no section separator")
	}
	return res, nil
}

func sortedKeys(roots Roots) []string {
	keys := make([]string, 0, len(roots))
	for k := range roots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]struct{}) []string {
	elems := make([]string, 0, len(set))
	for e := range set {
		elems = append(elems, e)
	}
	sort.Strings(elems)
	return elems
}
