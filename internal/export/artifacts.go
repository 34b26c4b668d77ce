package export

import (
	"context"
	"encoding/json"
	"fmt"

	t "megaprompt/internal/types"
)

// WriteScanResult stores the scan result as a machine-readable artifact.
func WriteScanResult(ctx context.Context, store Store, runID string, res *t.ScanResult) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return store.Put(ctx, runID, ScanResultArtifact, raw)
}

func ReadScanResult(ctx context.Context, store Store, runID string) (*t.ScanResult, error) {
	raw, err := store.Get(ctx, runID, ScanResultArtifact)
	if err != nil {
		return nil, err
	}
	var res t.ScanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("export: decode scan result: %w", err)
	}
	return &res, nil
}

// WriteMatrix stores the full presence matrix.
func WriteMatrix(ctx context.Context, store Store, runID string, entries []t.MatrixEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return store.Put(ctx, runID, MatrixArtifact, raw)
}

// WriteMissingSystems exports the matrix entries a generation run should
// compensate for: only missing and partial systems, present ones carry no
// signal for augmentation.
func WriteMissingSystems(ctx context.Context, store Store, runID string, entries []t.MatrixEntry) error {
	var gaps []t.MatrixEntry
	for _, e := range entries {
		if e.State == t.Missing || e.State == t.Partial {
			gaps = append(gaps, e)
		}
	}
	aug := t.Augmentation{Source: runID, MissingSystems: gaps}
	raw, err := json.MarshalIndent(aug, "", "  ")
	if err != nil {
		return err
	}
	return store.Put(ctx, runID, MissingSystemsArtifact, raw)
}

// ReadAugmentation loads a previously exported missing-systems artifact for
// use as generation input.
func ReadAugmentation(ctx context.Context, store Store, runID string) (*t.Augmentation, error) {
	raw, err := store.Get(ctx, runID, MissingSystemsArtifact)
	if err != nil {
		return nil, err
	}
	var aug t.Augmentation
	if err := json.Unmarshal(raw, &aug); err != nil {
		return nil, fmt.Errorf("export: decode augmentation: %w", err)
	}
	return &aug, nil
}

// WriteMegaPrompt stores the assembled prompt text.
func WriteMegaPrompt(ctx context.Context, store Store, runID, text string) error {
	return store.Put(ctx, runID, MegaPromptArtifact, []byte(text))
}
