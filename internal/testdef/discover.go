package testdef

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// Suffixes of declarative test documents.
var Suffixes = []string{".test.yaml", ".test.yml"}

// IsTestFile reports whether name looks like a test document.
func IsTestFile(name string) bool {
	for _, s := range Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Discover expands paths into a sorted, de-duplicated list of test
// documents. Directories are walked recursively, skipping hidden ones; files
// named explicitly are taken as they are.
func Discover(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("reading test path %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsTestFile(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	sort.Strings(out)
	log.Debug().Int("count", len(out)).Strs("paths", paths).Msg("discovered test files")
	return out, nil
}

// Filter selects tests by metadata. Empty fields match everything.
type Filter struct {
	// Tags matches when the test has any of them.
	Tags       []string
	Priorities []Priority
	// Grep is a case-insensitive regular expression, or a plain substring
	// when it does not compile, matched against the test name.
	Grep string
}

// Match reports whether m passes f.
func (f Filter) Match(m Metadata) bool {
	if len(f.Tags) > 0 && !anyTag(m.Tags, f.Tags) {
		return false
	}
	if len(f.Priorities) > 0 {
		found := false
		for _, p := range f.Priorities {
			if p == m.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Grep != "" {
		if re, err := regexp.Compile("(?i)" + f.Grep); err == nil {
			return re.MatchString(m.Name)
		}
		return strings.Contains(strings.ToLower(m.Name), strings.ToLower(f.Grep))
	}
	return true
}

func anyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// ParsePriorities turns "P0,P1" style values into priorities.
func ParsePriorities(values []string) ([]Priority, error) {
	var out []Priority
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			p := Priority(part)
			if !p.Valid() {
				return nil, fmt.Errorf("invalid priority %q", part)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// LoadAll discovers and loads every matching document under paths. Files
// that fail to load are left out and reported; the rest are returned in
// path order.
func LoadAll(paths []string, f Filter) ([]*Definition, []*errs.LoaderError) {
	files, err := Discover(paths)
	if err != nil {
		return nil, []*errs.LoaderError{{File: strings.Join(paths, ","), Cause: err}}
	}

	var (
		defs    []*Definition
		failed  []*errs.LoaderError
		byName  = make(map[string]string)
		skipped int
	)
	for _, file := range files {
		meta, err := ReadYAMLMetadata(file)
		if err != nil {
			failed = append(failed, asLoaderError(file, err))
			continue
		}
		if !f.Match(meta) {
			skipped++
			continue
		}
		def, err := LoadYAML(file)
		if err != nil {
			failed = append(failed, asLoaderError(file, err))
			continue
		}
		if prev, ok := byName[def.Name]; ok {
			log.Warn().Str("test", def.Name).Str("file", file).Str("previous", prev).Msg("duplicate test name")
		}
		byName[def.Name] = file
		defs = append(defs, def)
	}

	log.Debug().Int("loaded", len(defs)).Int("filtered", skipped).Int("failed", len(failed)).Msg("loaded test documents")
	return defs, failed
}

// LoadRegistered loads the procedural tests registered in this binary that
// match f.
func LoadRegistered(f Filter) ([]*Definition, []*errs.LoaderError) {
	tests, sources := Registered()
	var (
		defs   []*Definition
		failed []*errs.LoaderError
	)
	for i, p := range tests {
		if !f.Match(ProceduralMetadata(p, sources[i])) {
			continue
		}
		def, err := LoadProcedural(p, sources[i])
		if err != nil {
			failed = append(failed, asLoaderError(sources[i], err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, failed
}

func asLoaderError(file string, err error) *errs.LoaderError {
	var le *errs.LoaderError
	if errors.As(err, &le) {
		return le
	}
	return &errs.LoaderError{File: file, Cause: err}
}
