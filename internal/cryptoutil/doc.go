// Package cryptoutil provides the verification primitives used by the
// content pipeline: SHA-256 hashing, constant-time hash comparison, and
// KMS-backed signature verification of content bundles (ECDSA P-256/P-384,
// RSA-PSS with optional PKCS1v15 fallback).
package cryptoutil
