// Package sandbox implements the filesystem policy consulted before a tool
// touches a path: containment under allowed roots, extension allow and deny
// lists, and a size ceiling for existing files.
package sandbox
