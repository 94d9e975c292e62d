// Command sqllint checks that every inline SQL constant starts with a unique
// "--sql <uuid>" marker line, the tag SQLRunner logs queries by.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(--[^\n]*\n\s*)*(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	line    int
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
}

// query is one SQL string constant found in a source file.
type query struct {
	file   string
	line   int
	name   string
	marker string
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	var files []string
	for _, target := range targets {
		found, err := goFiles(target)
		if err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 2
		}
		files = append(files, found...)
	}

	var queries []query
	var violations []violation
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 2
		}
		qs, vs, err := lintSource(path, src)
		if err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 2
		}
		queries = append(queries, qs...)
		violations = append(violations, vs...)
	}
	violations = append(violations, duplicates(queries)...)

	if len(violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: SQL marker problems")
	for _, v := range violations {
		fmt.Fprintf(stderr, "  %s\n", v)
	}
	return 1
}

func goFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(target) == ".go" {
			return []string{target}, nil
		}
		return nil, nil
	}
	var out []string
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// lintSource reports SQL constants in src and those lacking a valid marker.
func lintSource(path string, src []byte) ([]query, []violation, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, 0)
	if err != nil {
		return nil, nil, err
	}
	var queries []query
	var violations []violation
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := strconv.Unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(vs.Names) {
				name = vs.Names[i].Name
			}
			line := fset.Position(bl.Pos()).Line
			m := uuidMarkerPattern.FindStringSubmatch(firstLine(raw))
			if m == nil {
				violations = append(violations, violation{file: path, line: line, name: name, message: "missing or invalid --sql <uuid> marker"})
				continue
			}
			queries = append(queries, query{file: path, line: line, name: name, marker: m[1]})
		}
		return true
	})
	return queries, violations, nil
}

// duplicates flags markers shared by more than one query.
func duplicates(queries []query) []violation {
	byMarker := map[string][]query{}
	for _, q := range queries {
		byMarker[q.marker] = append(byMarker[q.marker], q)
	}
	var out []violation
	for marker, qs := range byMarker {
		if len(qs) < 2 {
			continue
		}
		for _, q := range qs[1:] {
			out = append(out, violation{
				file:    q.file,
				line:    q.line,
				name:    q.name,
				message: fmt.Sprintf("marker %s already used by %s", marker, qs[0].name),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].file != out[j].file {
			return out[i].file < out[j].file
		}
		return out[i].line < out[j].line
	})
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
