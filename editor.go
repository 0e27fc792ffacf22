// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/mpk

package mpk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Editor accumulates archive edit operations and applies them on Commit.
type Editor struct {
	path string
	ops  []editOperation
	opts EditOptions
}

// editOperation stores one staged editor operation.
type editOperation struct {
	inputs []Input
	names  []string
	kind   editOperationKind
}

// editOperationKind identifies staged edit action type.
type editOperationKind uint8

const (
	// editOperationAdd appends new entries and fails on existing name.
	editOperationAdd editOperationKind = iota + 1
	// editOperationReplace rewrites existing entries.
	editOperationReplace
	// editOperationDelete removes exact names.
	editOperationDelete
)

// OpenEditor creates staged editor for file-based archive rewrite workflow.
func OpenEditor(path string, opts EditOptions) (*Editor, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrInvalidEntryName
	}

	opts.applyDefaults()

	return &Editor{
		path: trimmedPath,
		opts: opts,
		ops:  make([]editOperation, 0, 8),
	}, nil
}

// Add schedules adding new entries and fails on name collision during commit.
func (e *Editor) Add(inputs ...Input) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorInputs(inputs)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:   editOperationAdd,
		inputs: normalized,
	})

	return nil
}

// Replace schedules replacing existing entries.
func (e *Editor) Replace(inputs ...Input) error {
	if e == nil {
		return ErrNilReader
	}

	normalized, err := normalizeEditorInputs(inputs)
	if err != nil {
		return err
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:   editOperationReplace,
		inputs: normalized,
	})

	return nil
}

// Delete schedules exact-name removal.
func (e *Editor) Delete(names ...string) error {
	if e == nil {
		return ErrNilReader
	}

	normalized := make([]string, 0, len(names))
	for _, raw := range names {
		name, err := normalizeEntryName(raw)
		if err != nil {
			return err
		}

		normalized = append(normalized, name)
	}

	if len(normalized) == 0 {
		return nil
	}

	e.ops = append(e.ops, editOperation{
		kind:  editOperationDelete,
		names: normalized,
	})

	return nil
}

// Commit applies all staged operations in one rewrite transaction.
func (e *Editor) Commit(ctx context.Context) (*PackResult, error) {
	if e == nil {
		return nil, ErrNilReader
	}

	if ctx == nil {
		ctx = context.Background()
	}

	backupPath := e.path + ".bak"
	if err := prepareBackupSlot(backupPath, e.opts.BackupKeep); err != nil {
		return nil, err
	}

	if err := os.Rename(e.path, backupPath); err != nil {
		return nil, fmt.Errorf("move archive to backup: %w", err)
	}

	res, err := e.commitFromBackup(ctx, backupPath)
	if err != nil {
		rollbackErr := rollbackFromBackup(e.path, backupPath)
		if rollbackErr != nil {
			return nil, fmt.Errorf("%v (rollback failed: %v)", err, rollbackErr)
		}

		return nil, err
	}

	if e.opts.BackupKeep == 0 {
		if err := removeIfExists(backupPath); err != nil {
			return nil, fmt.Errorf("remove backup: %w", err)
		}
	}

	return res, nil
}

// commitFromBackup writes edited archive from backup source.
func (e *Editor) commitFromBackup(ctx context.Context, backupPath string) (*PackResult, error) {
	src, err := Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("parse backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	plan, err := buildEditPlan(src, e.ops)
	if err != nil {
		return nil, err
	}

	packOpts := e.opts.PackOptions
	packOpts.Version = src.Format()
	packOpts.VersionMinor = src.Version().Minor

	dstFile, err := os.OpenFile(e.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create destination archive: %w", err)
	}

	res, writeErr := rewriteArchive(ctx, dstFile, src.ra, plan, src.Version(), packOpts)
	if writeErr != nil {
		_ = dstFile.Close()
		return nil, writeErr
	}

	if err := dstFile.Sync(); err != nil {
		_ = dstFile.Close()
		return nil, fmt.Errorf("sync destination archive: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		return nil, fmt.Errorf("close destination archive: %w", err)
	}

	return res, nil
}

// normalizeEditorInputs validates and canonicalizes editor input list.
func normalizeEditorInputs(inputs []Input) ([]Input, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	normalized := make([]Input, 0, len(inputs))
	for i := range inputs {
		name, err := normalizeEntryName(inputs[i].Name)
		if err != nil {
			return nil, err
		}

		item := inputs[i]
		item.Name = name
		normalized = append(normalized, item)
	}

	return normalized, nil
}

// buildEditPlan applies staged operations to source entries in table order.
// Added entries are appended with IDs after the current maximum; deletes do
// not renumber surviving entries.
func buildEditPlan(src *Reader, ops []editOperation) ([]rewriteEntry, error) {
	entries := src.Entries()
	plan := make([]rewriteEntry, 0, len(entries)+4)
	index := make(map[string]int, len(entries))

	nextID := uint32(0)
	for i := range entries {
		entry := entries[i]
		if entry.ID >= nextID {
			nextID = entry.ID + 1
		}

		index[entry.Name] = len(plan)
		plan = append(plan, rewriteEntry{
			name:   entry.Name,
			id:     entry.ID,
			source: &entries[i],
		})
	}

	for _, op := range ops {
		switch op.kind {
		case editOperationAdd:
			for i := range op.inputs {
				in := op.inputs[i]
				if _, exists := index[in.Name]; exists {
					return nil, fmt.Errorf("%w: %q", ErrDuplicateEntryName, in.Name)
				}

				index[in.Name] = len(plan)
				plan = append(plan, rewriteEntry{
					name:  in.Name,
					id:    nextID,
					input: &in,
				})
				nextID++
			}
		case editOperationReplace:
			for i := range op.inputs {
				in := op.inputs[i]
				pos, exists := index[in.Name]
				if !exists {
					return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, in.Name)
				}

				item := &plan[pos]
				compress := item.source != nil &&
					item.source.Compressed &&
					src.Format() == FormatV2
				plan[pos] = rewriteEntry{
					name:     item.name,
					id:       item.id,
					input:    &in,
					compress: compress,
					replaced: true,
				}
			}
		case editOperationDelete:
			for _, name := range op.names {
				pos, exists := index[name]
				if !exists {
					continue
				}

				plan = append(plan[:pos], plan[pos+1:]...)
				delete(index, name)
				for key, idx := range index {
					if idx > pos {
						index[key] = idx - 1
					}
				}
			}
		default:
			return nil, fmt.Errorf("unknown edit operation kind: %d", op.kind)
		}
	}

	return plan, nil
}

// prepareBackupSlot rotates/removes existing backup generations before new commit.
func prepareBackupSlot(backupPath string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	switch keep {
	case 0, 1:
		return removeIfExists(backupPath)
	default:
		oldest := fmt.Sprintf("%s.%d", backupPath, keep-1)
		if err := removeIfExists(oldest); err != nil {
			return err
		}

		for i := keep - 2; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", backupPath, i)
			to := fmt.Sprintf("%s.%d", backupPath, i+1)
			if err := renameIfExists(from, to); err != nil {
				return err
			}
		}

		return renameIfExists(backupPath, backupPath+".1")
	}
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", from, err)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s to %s: %w", from, to, err)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) || err == nil {
		return nil
	}

	return fmt.Errorf("remove %s: %w", path, err)
}

// rollbackFromBackup restores backup on failed commit.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
