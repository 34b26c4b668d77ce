// Package export persists pipeline artifacts (scan results, presence
// matrices, assembled mega-prompts) so they can feed later runs or external
// tooling. Artifacts are grouped per run under a run id prefix.
package export

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("export: artifact not found")

// Well-known artifact names.
const (
	ScanResultArtifact     = "scan_result.json"
	MissingSystemsArtifact = "missing_systems.json"
	MegaPromptArtifact     = "mega_prompt.md"
	MatrixArtifact         = "matrix.json"
)

// Store is the artifact persistence seam. Both the filesystem and the S3
// variants satisfy it.
type Store interface {
	Put(ctx context.Context, runID, name string, content []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
}
