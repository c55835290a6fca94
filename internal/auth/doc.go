// Package auth resolves the bearer token coven-groups sends to the backend.
//
// # Token Sources
//
// A TokenSource looks for a token in this order:
//
//  1. auth.token from the configuration file
//  2. The COVEN_TOKEN environment variable
//  3. auth.token_file, or ~/.config/coven/token when unset
//
// No token at all is not an error; the backend may run without auth.
//
// # JWT Inspection
//
// Tokens shaped like JWTs are decoded without verification (the client never
// holds the signing secret) so an expired token fails fast with
// ErrExpiredToken instead of producing a 401 on every request. Opaque tokens
// are passed through untouched.
package auth
