// Package preflight provides readiness checks for the filesystem paths and
// external programs renderq depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start; the CLI "doctor" command prints the same results. The LAN receiver
// uses FreeBytes before accepting a file.
package preflight
