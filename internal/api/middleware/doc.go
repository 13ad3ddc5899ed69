// Package middleware provides HTTP middleware for the kernel's
// introspection surface: CORS and per-IP token bucket rate limiting.
package middleware
