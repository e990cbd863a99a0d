package symtab

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// FvTxt is the content of a GenFv "<FV>.Fv.txt" report.
type FvTxt struct {
	TotalSize uint32
	TakenSize uint32
	SpaceSize uint32
	// Files are the FFS files, offsets already shifted by the FV offset in
	// the FD, ordered by offset
	Files []Section
}

var (
	fvTxtSizePattern = regexp.MustCompile(`^(EFI_FV_(?:TOTAL|TAKEN|SPACE)_SIZE)\s*=\s*(0[xX][0-9A-Fa-f]+|[0-9]+)`)
	fvTxtFilePattern = regexp.MustCompile(`^(0[xX][0-9A-Fa-f]+)\s+([0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12})`)
)

// ParseFvTxt parses an FV report. fvOffset is the offset of the FV within the
// FD and is added to every file offset. Each file's size runs to the next
// file, the last one to EFI_FV_TAKEN_SIZE.
func ParseFvTxt(r io.Reader, fvOffset uint32) (*FvTxt, error) {
	out := &FvTxt{}
	var raw []Section

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := fvTxtSizePattern.FindStringSubmatch(line); m != nil {
			v, err := parseUint32(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			switch m[1] {
			case "EFI_FV_TOTAL_SIZE":
				out.TotalSize = v
			case "EFI_FV_TAKEN_SIZE":
				out.TakenSize = v
			case "EFI_FV_SPACE_SIZE":
				out.SpaceSize = v
			}
			continue
		}

		if m := fvTxtFilePattern.FindStringSubmatch(line); m != nil {
			off, err := parseUint32(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			g, err := NormalizeGUID(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			raw = append(raw, Section{GUID: g, Offset: off})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FV report: %w", err)
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Offset < raw[j].Offset })
	for i := range raw {
		end := out.TakenSize
		if i+1 < len(raw) {
			end = raw[i+1].Offset
		}
		if end > raw[i].Offset {
			raw[i].Size = end - raw[i].Offset
		}
		raw[i].Offset += fvOffset
	}
	out.Files = raw
	return out, nil
}

// Module is one entry of a GenFv "<FV>.Fv.map" file.
type Module struct {
	Name  string
	GUID  string
	Base  uint32
	Entry uint32
}

var (
	fvMapModulePattern = regexp.MustCompile(`^(\S+)\s+\(.*BaseAddress=(0[xX][0-9A-Fa-f]+),\s*EntryPoint=(0[xX][0-9A-Fa-f]+)`)
	fvMapGUIDPattern   = regexp.MustCompile(`^\(GUID=([0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12})`)
)

// ParseFvMap parses the module list of an FV map file.
func ParseFvMap(r io.Reader) ([]Module, error) {
	var modules []Module

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if m := fvMapModulePattern.FindStringSubmatch(line); m != nil {
			base, err := parseUint32(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			entry, err := parseUint32(m[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			modules = append(modules, Module{Name: m[1], Base: base, Entry: entry})
			continue
		}

		if m := fvMapGUIDPattern.FindStringSubmatch(line); m != nil && len(modules) > 0 {
			if g, err := NormalizeGUID(m[1]); err == nil {
				modules[len(modules)-1].GUID = g
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FV map: %w", err)
	}
	return modules, nil
}

// FvInf is the content of a GenFv "<FV>.inf" input file.
type FvInf struct {
	BaseAddress uint32
	BlockSize   uint32
	NumBlocks   uint32
	Files       []string
}

// ParseFvInf reads the [options] and [files] sections of an FV inf file.
func ParseFvInf(r io.Reader) (*FvInf, error) {
	out := &FvInf{}
	section := ""
	haveBase := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section {
		case "options":
			var err error
			switch key {
			case "EFI_BASE_ADDRESS":
				out.BaseAddress, err = parseUint32(value)
				haveBase = err == nil
			case "EFI_BLOCK_SIZE":
				out.BlockSize, err = parseUint32(value)
			case "EFI_NUM_BLOCKS":
				out.NumBlocks, err = parseUint32(value)
			}
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
		case "files":
			if key == "EFI_FILE_NAME" {
				out.Files = append(out.Files, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read FV inf: %w", err)
	}
	if !haveBase {
		return nil, fmt.Errorf("FV inf has no EFI_BASE_ADDRESS")
	}
	return out, nil
}

// ParseGuidXref reads a Guid.xref file into a GUID to name map.
func ParseGuidXref(r io.Reader) (map[string]string, error) {
	names := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		g, err := NormalizeGUID(fields[0])
		if err != nil {
			continue
		}
		if _, ok := names[g]; !ok {
			names[g] = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read GUID xref: %w", err)
	}
	return names, nil
}

func parseUint32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if v > 0xFFFFFFFF {
		return 0, fmt.Errorf("value 0x%X does not fit in 32 bits", v)
	}
	return uint32(v), nil
}
