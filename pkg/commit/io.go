package commit

import "os"

// writeAtomicFile writes content to path via write-temp-then-rename, the
// same crash-safe publication pattern pkg/txnstore and pkg/mutbuf use.
func writeAtomicFile(path, content string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
