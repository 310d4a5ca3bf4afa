// Package engine holds the registry of index engines. An engine names the
// methods it supports with their parameter defaults, maps space names to
// distance metrics, renders method configurations into index descriptions
// and translates raw distances into scores.
//
// Two engines are registered at init: "faiss" and "nmslib".
package engine
