// Package backend provides a stand-in translation service for local runs.
// It accepts the same multipart upload as the real service and answers
// with clips from a pluggable Translator.
package backend
