// Package watcher keeps a directory and the document store in step.
//
// Each cycle lists the directory and compares every file's modification
// time with the one recorded for the document of the same filename. New
// and changed files are run through the coordinator, at most
// MaxConcurrent at a time. Files that find no free slot are deferred to a
// later cycle. Blacklisted filenames and documents already in flight are
// skipped.
package watcher
