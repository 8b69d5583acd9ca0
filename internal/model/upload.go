package model

import "strings"

// Node is a stored file as the upload manager sees it.
type Node struct {
	Handle string
	Owner  string
	Key    string
	Type   int
	Size   int64
	Name   string
	Hash   string
	FA     string
	TS     int64
}

// AttributeCount returns how many file attributes are attached.
func (n Node) AttributeCount() int {
	return CountAttributes(n.FA)
}

// CountAttributes counts entries of a "/"-separated attribute string.
func CountAttributes(fa string) int {
	if fa == "" {
		return 0
	}
	return len(strings.Split(fa, "/"))
}

// Meta converts the node to its attachment description.
func (n Node) Meta() NodeMeta {
	return NodeMeta{
		Handle: n.Handle,
		Key:    n.Key,
		Type:   n.Type,
		Size:   n.Size,
		Name:   n.Name,
		Hash:   n.Hash,
		FA:     n.FA,
		TS:     n.TS,
	}
}

// PendingUpload correlates an upload with the room it targets until the
// produced node is attached or the upload fails.
type PendingUpload struct {
	UID    string
	RoomID string
	// Handle is empty until the upload completes.
	Handle string
	// FAID is the file attribute id still awaited after completion.
	FAID string
	// EFA is the number of file attributes still expected.
	EFA       int
	Completed bool
}
