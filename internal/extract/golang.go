package extract

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	t "megaprompt/internal/types"
)

var (
	goPackageRe      = regexp.MustCompile(`^package\s+(\w+)`)
	goImportSingleRe = regexp.MustCompile(`^\s*import\s+(?:\w+\s+)?"([^"]+)"`)
	// Inside an import block: optional alias then the quoted path.
	goImportBlockRe = regexp.MustCompile(`^\s*(?:[\w.]+\s+)?"([^"]+)"\s*$`)
	goFuncRe        = regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Z]\w*)\s*[(\[]`)
	goTypeRe        = regexp.MustCompile(`^type\s+([A-Z]\w*)\s+(struct|interface|\S+)`)
	goMainRe        = regexp.MustCompile(`^func\s+main\s*\(`)
)

// goFrameworks maps import prefixes to framework labels.
var goFrameworks = map[string]string{
	"github.com/gin-gonic/gin":  "gin",
	"github.com/labstack/echo":  "echo",
	"github.com/gofiber/fiber":  "fiber",
	"github.com/spf13/cobra":    "cobra",
	"connectrpc.com/connect":    "connect",
	"google.golang.org/grpc":    "grpc",
	"github.com/gorilla/mux":    "gorilla",
	"github.com/go-chi/chi":     "chi",
	"net/http":                  "net/http",
}

// Go extracts structural facts from Go source.
type Go struct{}

func (*Go) Language() string     { return "go" }
func (*Go) Extensions() []string { return []string{".go"} }

func (*Go) Extract(path string, content []byte) (t.ModuleRecord, error) {
	rec := t.ModuleRecord{Path: path, Language: "go"}

	inImports := false
	isMain := false
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case inImports:
			if strings.HasPrefix(strings.TrimSpace(line), ")") {
				inImports = false
				continue
			}
			if m := goImportBlockRe.FindStringSubmatch(line); m != nil {
				rec.Imports = append(rec.Imports, m[1])
			}
		case strings.HasPrefix(line, "import ("):
			inImports = true
		default:
			if m := goPackageRe.FindStringSubmatch(line); m != nil {
				rec.Module = m[1]
				isMain = m[1] == "main"
				continue
			}
			if m := goImportSingleRe.FindStringSubmatch(line); m != nil {
				rec.Imports = append(rec.Imports, m[1])
				continue
			}
			if goMainRe.MatchString(line) && isMain {
				rec.EntryPoints = append(rec.EntryPoints, "main")
				continue
			}
			if m := goFuncRe.FindStringSubmatch(line); m != nil {
				rec.Exports = append(rec.Exports, m[1])
				continue
			}
			if m := goTypeRe.FindStringSubmatch(line); m != nil {
				rec.Exports = append(rec.Exports, m[1])
				if m[2] == "struct" {
					rec.DataModels = append(rec.DataModels, m[1])
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return t.ModuleRecord{}, err
	}

	rec.Imports = dedupe(rec.Imports)
	rec.Exports = dedupe(rec.Exports)
	rec.Framework = detectFramework(rec.Imports, goFrameworks)
	return rec, nil
}

// detectFramework returns the label of the first import matching a known
// framework prefix. Concrete frameworks win over net/http.
func detectFramework(imports []string, known map[string]string) string {
	fallback := ""
	for _, imp := range imports {
		for prefix, label := range known {
			if imp == prefix || strings.HasPrefix(imp, prefix+"/") {
				if label == "net/http" {
					fallback = label
					continue
				}
				return label
			}
		}
	}
	return fallback
}
