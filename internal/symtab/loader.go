package symtab

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// EntryPointSymbol is the symbol every module defines from its FV map entry.
const EntryPointSymbol = "__ModuleEntryPoint"

const guidLen = 36

// Loader builds tables from an EDK2 FV output directory, the directory
// holding <FD>.fd, <FV>.inf, <FV>.Fv.txt, <FV>.Fv.map, Guid.xref and Ffs/.
type Loader struct {
	// Dir is the FV output directory
	Dir string
	// FdBase is the flash address of FD offset 0. Zero means the lowest
	// EFI_BASE_ADDRESS of the FVs found in Dir.
	FdBase uint32

	logger *zap.Logger
	infs   map[string]*FvInf
	names  map[string]string
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Dir: dir, logger: logger}
}

// Load reads the reports of the named FVs ("FSP-T") into one frozen table.
// Module symbols are the module's BaseAddress plus the symbol offset from
// its link map.
func (l *Loader) Load(fvNames ...string) (*Table, error) {
	if err := l.readInfs(); err != nil {
		return nil, err
	}
	fdBase, err := l.Base()
	if err != nil {
		return nil, err
	}
	maps, err := l.moduleMaps()
	if err != nil {
		return nil, err
	}

	t := New()
	for _, name := range fvNames {
		inf, ok := l.infs[name]
		if !ok {
			return nil, fmt.Errorf("no %s.inf in %s", name, l.Dir)
		}
		if inf.BaseAddress < fdBase {
			return nil, fmt.Errorf("FV %s base 0x%08X is below the FD base 0x%08X", name, inf.BaseAddress, fdBase)
		}
		fvOffset := inf.BaseAddress - fdBase

		if err := l.loadFvTxt(t, name, fvOffset); err != nil {
			return nil, err
		}
		if err := l.loadFvMap(t, name, maps); err != nil {
			return nil, err
		}
	}

	sections, symbols := t.Len()
	l.logger.Info("loaded symbol tables",
		zap.String("dir", l.Dir),
		zap.Strings("fv", fvNames),
		zap.Int("sections", sections),
		zap.Int("symbols", symbols),
	)
	t.Freeze()
	return t, nil
}

// Base returns the FD base address.
func (l *Loader) Base() (uint32, error) {
	if l.FdBase != 0 {
		return l.FdBase, nil
	}
	if err := l.readInfs(); err != nil {
		return 0, err
	}
	if len(l.infs) == 0 {
		return 0, fmt.Errorf("no FV inf files in %s", l.Dir)
	}
	base := uint32(0xFFFFFFFF)
	for _, inf := range l.infs {
		if inf.BaseAddress < base {
			base = inf.BaseAddress
		}
	}
	return base, nil
}

// Bases returns the EFI_BASE_ADDRESS of every FV, keyed by FV name. These are
// the default values of the _BASE_<FV>_ markers.
func (l *Loader) Bases() (map[string]uint32, error) {
	if err := l.readInfs(); err != nil {
		return nil, err
	}
	bases := make(map[string]uint32, len(l.infs))
	for name, inf := range l.infs {
		bases[name] = inf.BaseAddress
	}
	return bases, nil
}

// Volumes lists the FV names found in Dir.
func (l *Loader) Volumes() ([]string, error) {
	if err := l.readInfs(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(l.infs))
	for name := range l.infs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (l *Loader) readInfs() error {
	if l.infs != nil {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(l.Dir, "*.inf"))
	if err != nil {
		return err
	}
	infs := make(map[string]*FvInf)
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".inf")
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		inf, err := ParseFvInf(f)
		f.Close()
		if err != nil {
			// Not every .inf in the directory describes an FV.
			l.logger.Debug("skipping inf", zap.String("path", path), zap.Error(err))
			continue
		}
		infs[name] = inf
	}
	l.infs = infs

	l.names = map[string]string{}
	if f, err := os.Open(filepath.Join(l.Dir, "Guid.xref")); err == nil {
		names, err := ParseGuidXref(f)
		f.Close()
		if err != nil {
			return err
		}
		l.names = names
	}
	return nil
}

func (l *Loader) loadFvTxt(t *Table, name string, fvOffset uint32) error {
	path := filepath.Join(l.Dir, name+".Fv.txt")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open FV report: %w", err)
	}
	defer f.Close()

	report, err := ParseFvTxt(f, fvOffset)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range report.Files {
		s.Name = l.names[s.GUID]
		if err := t.AddSection(s); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	l.logger.Debug("loaded FV report",
		zap.String("fv", name),
		zap.Uint32("fv_offset", fvOffset),
		zap.Int("files", len(report.Files)),
	)
	return nil
}

func (l *Loader) loadFvMap(t *Table, name string, maps map[string]string) error {
	path := filepath.Join(l.Dir, name+".Fv.map")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open FV map: %w", err)
	}
	defer f.Close()

	modules, err := ParseFvMap(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for _, mod := range modules {
		if mapPath, ok := maps[mod.Name]; ok {
			if err := l.loadModuleMap(t, mod, mapPath); err != nil {
				return err
			}
		}
		if !t.HasSymbol(mod.Name, EntryPointSymbol) {
			if err := t.AddSymbol(mod.Name, EntryPointSymbol, mod.Entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) loadModuleMap(t *Table, mod Module, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open module map: %w", err)
	}
	defer f.Close()

	symbols, err := ParseModuleMap(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for name, rva := range symbols {
		err := t.AddSymbol(mod.Name, name, mod.Base+rva)
		var dup *DuplicateError
		if errors.As(err, &dup) {
			// The same module can be listed in more than one FV.
			continue
		}
		if err != nil {
			return err
		}
	}
	l.logger.Debug("loaded module map",
		zap.String("module", mod.Name),
		zap.Int("symbols", len(symbols)),
	)
	return nil
}

// moduleMaps indexes the link maps under Ffs/. Each FFS build directory is
// named <GUID><Module> and holds <GUID>.map or <Module>.map.
func (l *Loader) moduleMaps() (map[string]string, error) {
	maps := make(map[string]string)
	entries, err := os.ReadDir(filepath.Join(l.Dir, "Ffs"))
	if err != nil {
		if os.IsNotExist(err) {
			return maps, nil
		}
		return nil, fmt.Errorf("failed to read Ffs directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || len(name) <= guidLen {
			continue
		}
		module := name[guidLen:]
		for _, candidate := range []string{name[:guidLen] + ".map", module + ".map"} {
			path := filepath.Join(l.Dir, "Ffs", name, candidate)
			if _, err := os.Stat(path); err == nil {
				maps[module] = path
				break
			}
		}
	}
	return maps, nil
}
