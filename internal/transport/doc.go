// Package transport implements the HTTP client for the translation backend.
// It posts one audio chunk per request as a single-part multipart body and
// decodes the JSON answer into a TranslationResult, classifying failures as
// network, backend or malformed-response errors.
package transport
