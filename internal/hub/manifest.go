package hub

import (
	"fmt"
	"maps"
	"slices"
)

// File identifies one vocabulary file in a Hugging Face model repository.
type File struct {
	Repo     string `json:"repo"`
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	// SHA256 pins the expected content. Empty means resolve it from the
	// lock file or the hub's metadata.
	SHA256 string `json:"sha256,omitempty"`
}

var known = map[string]File{
	"bert-base-uncased": {
		Repo:     "google-bert/bert-base-uncased",
		Filename: "vocab.txt",
		Revision: "main",
	},
	"bert-base-cased": {
		Repo:     "google-bert/bert-base-cased",
		Filename: "vocab.txt",
		Revision: "main",
	},
	"bert-base-multilingual-cased": {
		Repo:     "google-bert/bert-base-multilingual-cased",
		Filename: "vocab.txt",
		Revision: "main",
	},
	"distilbert-base-uncased": {
		Repo:     "distilbert/distilbert-base-uncased",
		Filename: "vocab.txt",
		Revision: "main",
	},
}

// Known returns the file registered under a short vocabulary name.
func Known(name string) (File, error) {
	f, ok := known[name]
	if !ok {
		return File{}, fmt.Errorf("no known vocabulary %q (known: %v)", name, KnownNames())
	}
	return f, nil
}

// KnownNames lists the registered vocabulary names in sorted order.
func KnownNames() []string {
	return slices.Sorted(maps.Keys(known))
}
