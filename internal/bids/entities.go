package bids

import (
	"path/filepath"
	"strings"

	"github.com/episcalp/episcalp/internal/models"
)

// Entity names accepted by EntityValues, mapped to their file-name keys.
var entityKeys = map[string]string{
	"subject": "sub",
	"session": "ses",
	"task":    "task",
	"run":     "run",
}

// ParseEntities splits a BIDS file name into its key-value entities and
// trailing suffix. "sub-01_run-02_eeg.edf" yields {sub:01, run:02} and "eeg".
// Tokens that are not key-value pairs are ignored, except the last one.
func ParseEntities(filename string) (map[string]string, string) {
	name := filepath.Base(filename)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}

	entities := make(map[string]string)
	var suffix string
	tokens := strings.Split(name, "_")
	for i, tok := range tokens {
		key, value, ok := strings.Cut(tok, "-")
		if !ok || key == "" || value == "" {
			if i == len(tokens)-1 {
				suffix = tok
			}
			continue
		}
		if _, dup := entities[key]; !dup {
			entities[key] = value
		}
	}
	return entities, suffix
}

// RecordingFromName reconstructs the recording identity encoded in a source
// or derivative file name. ok is false when the name carries no subject.
func RecordingFromName(filename string) (models.Recording, bool) {
	ents, _ := ParseEntities(filename)
	sub, ok := ents["sub"]
	if !ok {
		return models.Recording{}, false
	}
	return models.Recording{
		Subject: sub,
		Session: ents["ses"],
		Task:    ents["task"],
		Run:     ents["run"],
	}, true
}
