package realsym

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseOffsets reads a symbol-offset table: one "name 0xOFFSET" pair per
// line, '#' starting a comment.
func ParseOffsets(r io.Reader) (Offsets, error) {
	offsets := make(Offsets)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("offset table line %d: want \"name offset\", got %q", lineno, line)
		}
		off, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("offset table line %d: bad offset %q: %w", lineno, fields[1], err)
		}
		offsets[fields[0]] = uintptr(off)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read offset table: %w", err)
	}
	return offsets, nil
}

// WriteOffsets emits the table in the format ParseOffsets reads, sorted
// by symbol name.
func WriteOffsets(w io.Writer, offsets Offsets) error {
	names := make([]string, 0, len(offsets))
	for name := range offsets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s 0x%x\n", name, uint64(offsets[name])); err != nil {
			return err
		}
	}
	return nil
}
