package pvsnap

import (
	"github.com/channelaccess/snapshot/internal/app/request"
	"github.com/channelaccess/snapshot/internal/app/snapshot"
)

// FileExt is the extension given to save files written into a directory.
const FileExt = snapshot.FileExt

// ReadFile decodes a save file.
func ReadFile(path string) (*Snapshot, error) {
	return snapshot.ReadFile(path)
}

// ReplaceMetadata rewrites the header of an existing save file in place,
// leaving the entries untouched.
func ReplaceMetadata(path string, update func(*Metadata)) error {
	return snapshot.ReplaceMetadata(path, update)
}

// ParseRequestFile expands a request file with macros into PV names.
func ParseRequestFile(path string, macros MacroTable) (RequestSet, error) {
	return request.New(macros).ParseFile(path)
}
