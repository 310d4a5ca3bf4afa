// Package fs abstracts the file operations used to persist indexes so that
// tests can inject faults.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: wraps another FileSystem and fails reads, writes, syncs,
//     closes, opens or renames on demand, counting the files it leaves open
//
// Production code uses fs.Default:
//
//	f, err := fs.Default.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
package fs
