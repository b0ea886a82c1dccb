package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	marker     = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

// Finding is one query constant that breaks the marker rules.
type Finding struct {
	File  string
	Line  int
	Name  string
	Issue string
}

type query struct {
	file string
	line int
	name string
	id   string
}

// Lint walks every .go file under roots and reports SQL string constants
// without a valid marker, plus markers shared by more than one query.
func Lint(roots ...string) ([]Finding, error) {
	var (
		findings []Finding
		seen     = map[string][]query{}
	)
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			queries, bad, err := scanFile(path)
			if err != nil {
				return err
			}
			findings = append(findings, bad...)
			for _, q := range queries {
				seen[q.id] = append(seen[q.id], q)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	for id, qs := range seen {
		if len(qs) < 2 {
			continue
		}
		for _, q := range qs {
			findings = append(findings, Finding{File: q.file, Line: q.line, Name: q.name, Issue: "marker " + id + " is not unique"})
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}

func scanFile(path string) ([]query, []Finding, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	var (
		queries  []query
		findings []Finding
	)
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.CONST {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, value := range vs.Values {
				lit := leftmost(value)
				if lit == nil || lit.Kind != token.STRING {
					continue
				}
				raw, err := unquote(lit.Value)
				if err != nil || !sqlKeyword.MatchString(raw) {
					continue
				}
				name := "_"
				if i < len(vs.Names) {
					name = vs.Names[i].Name
				}
				line := fset.Position(lit.Pos()).Line
				m := marker.FindStringSubmatch(firstLine(raw))
				if m == nil {
					findings = append(findings, Finding{File: path, Line: line, Name: name, Issue: "missing or invalid --sql <uuid> marker"})
					continue
				}
				queries = append(queries, query{file: path, line: line, name: name, id: m[1]})
			}
		}
	}
	return queries, findings, nil
}

// leftmost returns the first literal of a concatenation such as
// `--sql ...` + columns + `...`.
func leftmost(expr ast.Expr) *ast.BasicLit {
	for {
		switch e := expr.(type) {
		case *ast.BasicLit:
			return e
		case *ast.BinaryExpr:
			expr = e.X
		case *ast.ParenExpr:
			expr = e.X
		default:
			return nil
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
