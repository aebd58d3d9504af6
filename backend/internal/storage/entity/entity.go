// Package entity defines the documents shared by every storage backend: lists,
// their members, invitations, users and items.
//
// The types carry both json tags (local JSONL tables and the HTTP API) and
// firestore tags (Cloud Firestore). Field names are camelCase on both so a
// document looks the same wherever it is stored.
package entity
