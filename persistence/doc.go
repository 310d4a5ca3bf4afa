// Package persistence defines the on-disk framing of index files and the
// primitives used to encode index bodies.
//
// File layout (little-endian):
//
//	header  : magic "KNNL" u32 | version u16 | compression u8 | reserved u8
//	payload : index body, optionally lz4 or zstd compressed
//	trailer : payload length u64 | raw length u64 | CRC32C(payload, raw length) u32 | magic u32
//
// Files are written atomically through WriteFile (temp file, fsync, rename,
// directory fsync) and read back through ReadFile, which memory-maps the file
// and verifies the trailer before any byte of the payload is decoded.
//
// The Encoder and Decoder carry a sticky error so body codecs can write and
// read a sequence of fields and check for failure once.
package persistence
