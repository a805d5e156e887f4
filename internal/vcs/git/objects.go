package git

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/fanling-notes/fanling/internal/vcs"
)

// HashObject stores data as a blob and returns its id
func (g *Git) HashObject(ctx context.Context, data []byte) (vcs.Oid, error) {
	res, err := g.run(ctx, data, nil, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	return vcs.Oid(vcs.TrimOutput(res.Stdout)), nil
}

// ReadBlob returns the content of a blob
func (g *Git) ReadBlob(ctx context.Context, oid vcs.Oid) ([]byte, error) {
	res, err := g.run(ctx, nil, nil, "cat-file", "blob", oid.String())
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

// ReadPath returns the blob at path inside treeish
func (g *Git) ReadPath(ctx context.Context, treeish, path string) ([]byte, error) {
	spec := treeish + ":" + path
	res, err := g.run(ctx, nil, nil, "cat-file", "blob", spec)
	if err != nil {
		if missingObject(res) {
			return nil, fmt.Errorf("%s: %w", spec, vcs.ErrPathNotFound)
		}
		return nil, err
	}
	return res.Stdout, nil
}

// ReadTree lists the entries of a single tree level
func (g *Git) ReadTree(ctx context.Context, treeish string) ([]vcs.TreeEntry, error) {
	res, err := g.run(ctx, nil, nil, "ls-tree", "-z", treeish)
	if err != nil {
		if missingObject(res) {
			return nil, fmt.Errorf("%s: %w", treeish, vcs.ErrPathNotFound)
		}
		return nil, err
	}
	return parseTree(res.Stdout)
}

// missingObject reports whether a failed lookup failed because the object
// or path is absent. Exit status 128 alone also covers a broken repository.
func missingObject(res vcs.Result) bool {
	if res.ExitCode != 128 {
		return false
	}
	for _, line := range vcs.ParseLines(res.Stderr) {
		for _, marker := range []string{
			"does not exist",
			"Not a valid object name",
			"not a tree object",
			"exists on disk, but not in",
		} {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// parseTree parses `ls-tree -z` output: "<mode> <type> <oid>\t<name>\0".
func parseTree(output []byte) ([]vcs.TreeEntry, error) {
	var entries []vcs.TreeEntry
	for _, rec := range vcs.SplitNul(output) {
		if rec == "" {
			continue
		}
		meta, name, ok := strings.Cut(rec, "\t")
		if !ok {
			return nil, fmt.Errorf("unexpected ls-tree record %q", rec)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected ls-tree record %q", rec)
		}
		entries = append(entries, vcs.TreeEntry{
			Mode: fields[0],
			Kind: fields[1],
			Oid:  vcs.Oid(fields[2]),
			Name: name,
		})
	}
	return entries, nil
}

// MakeTree writes a tree object from entries
func (g *Git) MakeTree(ctx context.Context, entries []vcs.TreeEntry) (vcs.Oid, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		if strings.ContainsAny(e.Name, "/\x00") || e.Name == "" {
			return "", fmt.Errorf("invalid tree entry name %q", e.Name)
		}
		fmt.Fprintf(&buf, "%s %s %s\t%s\x00", e.Mode, e.Kind, e.Oid, e.Name)
	}

	res, err := g.run(ctx, buf.Bytes(), nil, "mktree", "-z")
	if err != nil {
		return "", err
	}
	return vcs.Oid(vcs.TrimOutput(res.Stdout)), nil
}
