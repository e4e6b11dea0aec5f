package bids

import (
	"fmt"
	"sort"

	"github.com/episcalp/episcalp/internal/fileutil"
	"github.com/episcalp/episcalp/internal/models"
)

// ignoredDirs are never scanned for entity values.
var ignoredDirs = []string{"derivatives", "sourcedata", "code", "stimuli"}

// Filter narrows entity discovery to files whose entities equal the given
// values. Keys are entity names ("subject", "session", ...). An empty value
// places no constraint on that axis.
type Filter map[string]string

// Dataset is a one-pass index of the entities found under a dataset root.
type Dataset struct {
	Root  string
	files []map[string]string
}

// Scan walks root once and records the entities of every BIDS-named file.
func Scan(root string) (*Dataset, error) {
	result, err := fileutil.ScanDirectory(root, fileutil.ScanOptions{
		Recursive:   true,
		ExcludeDirs: ignoredDirs,
		SkipHidden:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("scan dataset root %s: %w", root, err)
	}

	ds := &Dataset{Root: root}
	for _, f := range result.Files {
		ents, _ := ParseEntities(f)
		if _, ok := ents["sub"]; !ok {
			continue
		}
		ds.files = append(ds.files, ents)
	}
	return ds, nil
}

// Values returns the sorted, distinct values of entity among the files that
// satisfy filter.
func (ds *Dataset) Values(entity string, filter Filter) ([]string, error) {
	key, ok := entityKeys[entity]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	seen := make(map[string]bool)
	for _, ents := range ds.files {
		if !filter.matches(ents) {
			continue
		}
		if v, ok := ents[key]; ok {
			seen[v] = true
		}
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

func (f Filter) matches(ents map[string]string) bool {
	for entity, want := range f {
		if want == "" {
			continue
		}
		if ents[entityKeys[entity]] != want {
			return false
		}
	}
	return true
}

// EntityValues is a convenience wrapper around Scan and Values.
func EntityValues(root, entity string, filter Filter) ([]string, error) {
	ds, err := Scan(root)
	if err != nil {
		return nil, err
	}
	return ds.Values(entity, filter)
}

// Enumerate returns the subject × session × task × run cross-product present
// under root. Each inner axis is narrowed by the values chosen on the outer
// axes; an axis with no values contributes a single empty value.
func Enumerate(root string) ([]models.Recording, error) {
	ds, err := Scan(root)
	if err != nil {
		return nil, err
	}
	return ds.Recordings()
}

// Recordings builds the cross-product from an already scanned dataset.
func (ds *Dataset) Recordings() ([]models.Recording, error) {
	subjects, err := ds.Values("subject", nil)
	if err != nil {
		return nil, err
	}

	var recs []models.Recording
	for _, sub := range subjects {
		sessions, err := ds.axis("session", Filter{"subject": sub})
		if err != nil {
			return nil, err
		}
		for _, ses := range sessions {
			tasks, err := ds.axis("task", Filter{"subject": sub, "session": ses})
			if err != nil {
				return nil, err
			}
			for _, task := range tasks {
				runs, err := ds.axis("run", Filter{"subject": sub, "session": ses, "task": task})
				if err != nil {
					return nil, err
				}
				for _, run := range runs {
					recs = append(recs, models.Recording{
						Subject: sub,
						Session: ses,
						Task:    task,
						Run:     run,
					})
				}
			}
		}
	}
	return recs, nil
}

// axis returns Values, substituting a single empty value when there are none.
func (ds *Dataset) axis(entity string, filter Filter) ([]string, error) {
	values, err := ds.Values(entity, filter)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []string{""}, nil
	}
	return values, nil
}
