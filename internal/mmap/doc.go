// Package mmap maps index files read-only into memory for loading.
//
//	m, err := mmap.Open("graph.faiss")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // valid until Close
//
// Slices obtained from Bytes or Region must not be used after Close.
package mmap
