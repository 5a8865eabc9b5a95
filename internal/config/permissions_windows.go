//go:build windows

package config

// checkFilePermissions is a no-op on Windows; NTFS ACLs are not comparable
// to the unix permission-bit check.
func checkFilePermissions(path string) string {
	return ""
}
