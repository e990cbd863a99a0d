package symtab

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "                0x0000000000000240                _TempRamInitApi"
	gccSymbolPattern = regexp.MustCompile(`^\s+0x([0-9A-Fa-f]+)\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	// " 0001:00000240       _TempRamInitApi            00000240 f   SecEntry.obj"
	msvcSymbolPattern = regexp.MustCompile(`^\s*[0-9A-Fa-f]{4}:[0-9A-Fa-f]{8}\s+(\S+)\s+([0-9A-Fa-f]{8,16})\b`)
	msvcLoadPattern   = regexp.MustCompile(`Preferred load address is ([0-9A-Fa-f]+)`)
)

// ParseModuleMap parses a GNU ld or MSVC link map and returns each public
// symbol's offset from the module image base.
func ParseModuleMap(r io.Reader) (map[string]uint32, error) {
	symbols := make(map[string]uint32)
	var preferred uint64
	msvc := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := msvcLoadPattern.FindStringSubmatch(line); m != nil {
			msvc = true
			preferred, _ = strconv.ParseUint(m[1], 16, 64)
			continue
		}
		if strings.Contains(line, "Publics by Value") {
			msvc = true
			continue
		}

		if msvc {
			m := msvcSymbolPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			v, err := strconv.ParseUint(m[2], 16, 64)
			if err != nil {
				continue
			}
			setSymbol(symbols, m[1], v-preferred)
			continue
		}

		m := gccSymbolPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address in %q: %w", line, err)
		}
		setSymbol(symbols, m[2], v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read module map: %w", err)
	}
	return symbols, nil
}

// setSymbol keeps the first definition of a name; later lines for the same
// name come from discarded or duplicate input sections.
func setSymbol(symbols map[string]uint32, name string, v uint64) {
	if v > 0xFFFFFFFF {
		return
	}
	if _, ok := symbols[name]; !ok {
		symbols[name] = uint32(v)
	}
}
