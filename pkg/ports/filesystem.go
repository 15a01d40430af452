package ports

// FileSystem is the storage behind scenario scripts, the encoded stream,
// session summaries and debug dumps.
type FileSystem interface {
	// ReadFile reads a whole file, such as a scenario script.
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the file at path, creating parent directories.
	WriteFile(path string, data []byte) error

	// AppendFile appends data to the file at path, creating it if missing.
	// The packetizer streams one fragment per call.
	AppendFile(path string, data []byte) error

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string) error

	// Exists reports whether a file or directory exists at path.
	Exists(path string) (bool, error)
}
