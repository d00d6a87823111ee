package session

import (
	"encoding/json"
	"os"
	"time"

	"github.com/m4xw311/docseek/errors"
)

// Document is the persisted shape of a search result.
type Document struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags,omitempty"`
	Date    string   `json:"date,omitempty"`
}

// Bookmark is a document the user chose to keep.
type Bookmark struct {
	Document
	Query   string    `json:"query,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// SearchRecord logs one search for /history and /analytics.
type SearchRecord struct {
	Query string    `json:"query"`
	Count int       `json:"count"`
	Tags  []string  `json:"tags,omitempty"`
	At    time.Time `json:"at"`
}

type libraryFile struct {
	Bookmarks []Bookmark     `json:"bookmarks"`
	Searches  []SearchRecord `json:"searches"`
}

// Library holds bookmarks and the search log. Both are append-only.
type Library struct {
	path string
	data libraryFile
}

// OpenLibrary loads the library stored at path, or starts an empty one.
func OpenLibrary(path string) (*Library, error) {
	l := &Library{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not read library %s", path)
	}
	if err := json.Unmarshal(data, &l.data); err != nil {
		return nil, errors.Wrapf(err, "could not parse library %s", path)
	}
	return l, nil
}

// AddBookmark appends doc to the bookmarks and saves.
func (l *Library) AddBookmark(doc Document, query string) error {
	l.data.Bookmarks = append(l.data.Bookmarks, Bookmark{Document: doc, Query: query, SavedAt: time.Now()})
	return l.save()
}

// RecordSearch appends a search to the log and saves.
func (l *Library) RecordSearch(query string, docs []Document) error {
	var tags []string
	for _, d := range docs {
		tags = append(tags, d.Tags...)
	}
	l.data.Searches = append(l.data.Searches, SearchRecord{Query: query, Count: len(docs), Tags: tags, At: time.Now()})
	return l.save()
}

func (l *Library) Bookmarks() []Bookmark {
	return append([]Bookmark(nil), l.data.Bookmarks...)
}

func (l *Library) Searches() []SearchRecord {
	return append([]SearchRecord(nil), l.data.Searches...)
}

func (l *Library) save() error {
	if l.path == "" {
		return nil
	}
	return writeJSON(l.path, l.data)
}
