package extract

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	t "megaprompt/internal/types"
)

var (
	jsImportRe        = regexp.MustCompile(`import\s+.*?from\s+['"]([^'"]+)['"]`)
	jsBareImportRe    = regexp.MustCompile(`^import\s+['"]([^'"]+)['"]`)
	jsRequireRe       = regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	jsDynamicImportRe = regexp.MustCompile(`import\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	jsReexportRe      = regexp.MustCompile(`export\s+.*?from\s+['"]([^'"]+)['"]`)
	jsExportRe        = regexp.MustCompile(`^export\s+(?:default\s+)?(?:async\s+)?(?:function|class|const|let|var|interface|type|enum)\s+(\w+)`)
	jsExportDefaultRe = regexp.MustCompile(`^export\s+default\b`)
	tsModelRe         = regexp.MustCompile(`^(?:export\s+)?(?:interface|type)\s+(\w+)`)
)

var jsFrameworks = map[string]string{
	"react":   "react",
	"next":    "next",
	"vue":     "vue",
	"svelte":  "svelte",
	"express": "express",
	"fastify": "fastify",
	"koa":     "koa",
	"nest":    "nestjs",
}

// JavaScript covers the JS/TS family with one extractor; TypeScript-only
// constructs simply never match in plain JS files.
type JavaScript struct{}

func (*JavaScript) Language() string { return "javascript" }
func (*JavaScript) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"}
}

func (*JavaScript) Extract(path string, content []byte) (t.ModuleRecord, error) {
	rec := t.ModuleRecord{Path: path, Language: "javascript"}
	rec.Module = moduleNameFromPath(path)

	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		for _, re := range []*regexp.Regexp{jsImportRe, jsBareImportRe, jsRequireRe, jsDynamicImportRe, jsReexportRe} {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				rec.Imports = append(rec.Imports, m[1])
			}
		}
		if m := jsExportRe.FindStringSubmatch(line); m != nil {
			rec.Exports = append(rec.Exports, m[1])
		} else if jsExportDefaultRe.MatchString(line) {
			rec.Exports = append(rec.Exports, "default")
		}
		if m := tsModelRe.FindStringSubmatch(line); m != nil {
			rec.DataModels = append(rec.DataModels, m[1])
		}
	}
	if err := sc.Err(); err != nil {
		return t.ModuleRecord{}, err
	}

	base := strings.ToLower(moduleNameFromPath(path))
	if base == "index" || base == "main" || base == "server" || base == "app" {
		rec.EntryPoints = append(rec.EntryPoints, base)
	}

	rec.Imports = dedupe(rec.Imports)
	rec.Exports = dedupe(rec.Exports)
	rec.DataModels = dedupe(rec.DataModels)
	rec.Framework = detectJSFramework(rec.Imports)
	return rec, nil
}

func detectJSFramework(imports []string) string {
	for _, imp := range imports {
		root := imp
		if strings.HasPrefix(root, "@") {
			root = strings.TrimPrefix(root, "@")
			if i := strings.IndexByte(root, '/'); i > 0 {
				root = root[:i]
			}
		} else if i := strings.IndexByte(root, '/'); i > 0 {
			root = root[:i]
		}
		if label, ok := jsFrameworks[root]; ok {
			return label
		}
	}
	return ""
}
