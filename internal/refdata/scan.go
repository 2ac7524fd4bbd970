package refdata

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// line is one non-blank input line with its 1-based position.
type line struct {
	num    int
	text   string
	fields []string
}

// scanLines returns the trimmed, non-blank lines of r.
func scanLines(r io.Reader) ([]line, error) {
	var out []line
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		out = append(out, line{num: n, text: text, fields: strings.Fields(text)})
	}
	return out, sc.Err()
}

// parseRow parses every field of l as a float.
func parseRow(l line) ([]float64, error) {
	row := make([]float64, len(l.fields))
	for i, f := range l.fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid number %q", l.num, f)
		}
		row[i] = v
	}
	return row, nil
}

// reverse reverses s in place.
func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
