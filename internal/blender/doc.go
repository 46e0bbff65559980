// Package blender launches Blender in background mode for queued tasks.
//
// The Spawner validates the task's .blend file, builds the command line
// `<blender> -b <file> -P <script> -- <mode>` and returns a handle the
// executor can wait on or kill. The Python driver script ships embedded in
// the binary and is extracted to the data directory unless a custom script
// is configured.
package blender
