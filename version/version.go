// Package version provides the version of asyncsql.
package version

// version is set at build time with -ldflags.
var version = "0.1.0"

// Version returns the version of asyncsql.
func Version() string {
	return version
}
