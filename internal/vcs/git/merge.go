package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// emptyTree is the id of the empty tree object in SHA-1 repositories.
const emptyTree vcs.Oid = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// MergeTree performs a three-way merge of ours and theirs using
// `git merge-tree --write-tree`, which needs git 2.38 or newer.
// Exit status 0 is a clean merge, 1 a merge with conflicts.
func (g *Git) MergeTree(ctx context.Context, ours, theirs vcs.Oid) (*vcs.MergeTreeResult, error) {
	res, err := g.run(ctx, nil, nil,
		"merge-tree", "--write-tree", "-z", "--no-messages", ours.String(), theirs.String())
	if err != nil && res.ExitCode != 1 {
		if strings.Contains(string(res.Stderr), "unrelated histories") {
			return nil, fmt.Errorf("%w: %v", vcs.ErrUnrelatedHistories, err)
		}
		return nil, err
	}

	result, perr := parseMergeTree(res.Stdout)
	if perr != nil {
		return nil, perr
	}
	result.Clean = res.ExitCode == 0
	if !result.Clean && len(result.Conflicts) == 0 {
		return nil, fmt.Errorf("merge-tree reported conflicts but listed none: %w", vcs.ErrConflicts)
	}
	return result, nil
}

// parseMergeTree parses the -z output of merge-tree --write-tree:
// the tree id, then "<mode> <oid> <stage>\t<path>" records, then an
// empty record before any informational messages.
func parseMergeTree(output []byte) (*vcs.MergeTreeResult, error) {
	fields := vcs.SplitNul(output)
	if len(fields) == 0 {
		return nil, fmt.Errorf("merge-tree produced no output")
	}

	result := &vcs.MergeTreeResult{Tree: vcs.Oid(strings.TrimSpace(fields[0]))}
	for _, rec := range fields[1:] {
		if rec == "" {
			break
		}
		stage, ok := parseStage(rec)
		if !ok {
			break
		}
		result.Conflicts = append(result.Conflicts, stage)
	}
	return result, nil
}

func parseStage(rec string) (vcs.ConflictStage, bool) {
	meta, path, ok := strings.Cut(rec, "\t")
	if !ok {
		return vcs.ConflictStage{}, false
	}
	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return vcs.ConflictStage{}, false
	}
	stage, err := strconv.Atoi(fields[2])
	if err != nil || stage < vcs.StageAncestor || stage > vcs.StageTheirs {
		return vcs.ConflictStage{}, false
	}
	return vcs.ConflictStage{
		Mode:  fields[0],
		Oid:   vcs.Oid(fields[1]),
		Stage: stage,
		Path:  path,
	}, true
}

// ChangedPaths lists paths under prefix that differ between two commits.
// A zero from is treated as the empty tree, so every path is reported as added.
func (g *Git) ChangedPaths(ctx context.Context, from, to vcs.Oid, prefix string) ([]vcs.PathChange, error) {
	fromSpec := from.String()
	if from.IsZero() {
		fromSpec = emptyTree.String()
	}

	args := []string{"diff-tree", "-r", "-z", "--no-renames", "--name-status", fromSpec, to.String()}
	if prefix != "" {
		args = append(args, "--", prefix)
	}
	res, err := g.run(ctx, nil, nil, args...)
	if err != nil {
		return nil, err
	}

	fields := vcs.SplitNul(res.Stdout)
	changes := make([]vcs.PathChange, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i] == "" {
			return nil, fmt.Errorf("unexpected diff-tree output %q", res.Stdout)
		}
		status := vcs.ChangeStatus(fields[i][:1])
		switch status {
		case vcs.ChangeAdded, vcs.ChangeModified, vcs.ChangeDeleted:
		default:
			// type changes and the like are treated as modifications
			status = vcs.ChangeModified
		}
		changes = append(changes, vcs.PathChange{Status: status, Path: fields[i+1]})
	}
	return changes, nil
}
