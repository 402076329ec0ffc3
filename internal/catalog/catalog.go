// Package catalog loads authored prescriptive norms and shared primitives
// from JSON files on disk. Trees are supplied data; the catalog never edits
// them, it only indexes and hands them to the expander.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"normgate/internal/requirement"
)

var ErrNotFound = errors.New("norm not found")

const (
	normsSubdir  = "prescriptive-norms"
	sharedSubdir = "shared-primitives"
)

type Catalog struct {
	norms  map[string]*requirement.PrescriptiveNorm
	shared map[string]*requirement.SharedPrimitive
}

// Load reads <dir>/prescriptive-norms/*.json and <dir>/shared-primitives/*.json.
// A file that does not decode is a fatal authoring error, not a skip.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{
		norms:  make(map[string]*requirement.PrescriptiveNorm),
		shared: make(map[string]*requirement.SharedPrimitive),
	}

	if err := eachJSON(filepath.Join(dir, normsSubdir), func(path string, raw []byte) error {
		var pn requirement.PrescriptiveNorm
		if err := json.Unmarshal(raw, &pn); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		if strings.TrimSpace(pn.ID) == "" {
			return fmt.Errorf("%s: norm id is required", path)
		}
		c.norms[pn.ID] = &pn
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachJSON(filepath.Join(dir, sharedSubdir), func(path string, raw []byte) error {
		var sp requirement.SharedPrimitive
		if err := json.Unmarshal(raw, &sp); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		if strings.TrimSpace(sp.ID) == "" {
			return fmt.Errorf("%s: shared primitive id is required", path)
		}
		c.shared[sp.ID] = &sp
		return nil
	}); err != nil {
		return nil, err
	}

	return c, nil
}

func eachJSON(dir string, fn func(path string, raw []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fn(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// Norms lists all prescriptive norms sorted by id.
func (c *Catalog) Norms() []*requirement.PrescriptiveNorm {
	out := make([]*requirement.PrescriptiveNorm, 0, len(c.norms))
	for _, pn := range c.norms {
		out = append(out, pn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Norm(id string) (*requirement.PrescriptiveNorm, error) {
	pn, ok := c.norms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return pn, nil
}

// SharedFor resolves the shared primitives a norm's expansion needs: its
// declared shared_refs, any refs its nodes carry, and the transitive refs
// inside those primitives. Sorted by id for stable expansion input.
func (c *Catalog) SharedFor(pn *requirement.PrescriptiveNorm) []requirement.SharedPrimitive {
	want := make(map[string]bool)
	var queue []string

	enqueue := func(id string) {
		if id != "" && !want[id] {
			want[id] = true
			queue = append(queue, id)
		}
	}
	for _, id := range pn.SharedRefs {
		enqueue(id)
	}
	for _, n := range pn.Requirements.Nodes {
		enqueue(n.Ref)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sp, ok := c.shared[id]
		if !ok {
			continue
		}
		for _, n := range sp.Logic.Nodes {
			enqueue(n.Ref)
		}
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		if _, ok := c.shared[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]requirement.SharedPrimitive, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.shared[id])
	}
	return out
}
