// Package tronstore commits persisted tron documents to blob storage.
//
// Each document lives in its own blob, named after the document id. Writes
// are guarded by etags: creating a blob fails if it already exists, and
// updating one fails unless the caller holds the etag of the version last
// read or written, so concurrent writers can not silently overwrite each
// other.
package tronstore
