// Package blobs stores large message bodies out-of-line under
// blobs/<id>.json, referenced from a message's body_ref field.
package blobs

import (
	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
)

// Write persists payload as blobs/<id>.json and returns its path.
func Write(l layout.Layout, id string, payload map[string]any) (string, error) {
	path := l.BlobPath(id)
	if err := jsonio.WriteAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads blobs/<id>.json, returning (nil, nil) if absent.
func Read(l layout.Layout, id string) (map[string]any, error) {
	var payload map[string]any
	ok, err := jsonio.ReadJSON(l.BlobPath(id), &payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return payload, nil
}
