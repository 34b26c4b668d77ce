package extract

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	t "megaprompt/internal/types"
)

var (
	pyFromImportRe = regexp.MustCompile(`^from\s+([.\w]+)\s+import`)
	pyImportRe     = regexp.MustCompile(`^import\s+([\w.]+)`)
	pyDefRe        = regexp.MustCompile(`^def\s+(\w+)\s*\(`)
	pyClassRe      = regexp.MustCompile(`^class\s+(\w+)\s*[(:]?`)
	pyClassBaseRe  = regexp.MustCompile(`^class\s+\w+\s*\(([^)]*)\)`)
	pyMainGuardRe  = regexp.MustCompile(`^if\s+__name__\s*==`)
)

var pyFrameworks = map[string]string{
	"django":  "django",
	"flask":   "flask",
	"fastapi": "fastapi",
	"typer":   "typer",
	"click":   "click",
	"celery":  "celery",
}

// modelBases marks class bases that indicate a data model declaration.
var pyModelBases = []string{"BaseModel", "TypedDict", "NamedTuple"}

// Python extracts structural facts from Python source. Only top-level
// (column zero) definitions count as exports.
type Python struct{}

func (*Python) Language() string     { return "python" }
func (*Python) Extensions() []string { return []string{".py", ".pyx"} }

func (*Python) Extract(path string, content []byte) (t.ModuleRecord, error) {
	rec := t.ModuleRecord{Path: path, Language: "python"}
	rec.Module = moduleNameFromPath(path)

	prevDecorator := ""
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := pyFromImportRe.FindStringSubmatch(line); m != nil {
			rec.Imports = append(rec.Imports, strings.TrimLeft(m[1], "."))
		} else if m := pyImportRe.FindStringSubmatch(line); m != nil {
			rec.Imports = append(rec.Imports, m[1])
		} else if m := pyDefRe.FindStringSubmatch(line); m != nil {
			if !strings.HasPrefix(m[1], "_") {
				rec.Exports = append(rec.Exports, m[1])
			}
		} else if m := pyClassRe.FindStringSubmatch(line); m != nil {
			if !strings.HasPrefix(m[1], "_") {
				rec.Exports = append(rec.Exports, m[1])
			}
			if isPyModel(line, prevDecorator) {
				rec.DataModels = append(rec.DataModels, m[1])
			}
		} else if pyMainGuardRe.MatchString(line) {
			rec.EntryPoints = append(rec.EntryPoints, "__main__")
		}

		if strings.HasPrefix(line, "@") {
			prevDecorator = line
		} else if strings.TrimSpace(line) != "" {
			prevDecorator = ""
		}
	}
	if err := sc.Err(); err != nil {
		return t.ModuleRecord{}, err
	}

	rec.Imports = dedupe(rec.Imports)
	rec.Exports = dedupe(rec.Exports)
	rec.Framework = detectPyFramework(rec.Imports)
	return rec, nil
}

func isPyModel(classLine, decorator string) bool {
	if strings.HasPrefix(decorator, "@dataclass") {
		return true
	}
	m := pyClassBaseRe.FindStringSubmatch(classLine)
	if m == nil {
		return false
	}
	for _, base := range pyModelBases {
		if strings.Contains(m[1], base) {
			return true
		}
	}
	return false
}

func detectPyFramework(imports []string) string {
	for _, imp := range imports {
		root := imp
		if i := strings.IndexByte(root, '.'); i > 0 {
			root = root[:i]
		}
		if label, ok := pyFrameworks[root]; ok {
			return label
		}
	}
	return ""
}

func moduleNameFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
