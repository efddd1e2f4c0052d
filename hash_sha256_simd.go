//go:build !noavx

package main

import simdsha "github.com/minio/sha256-simd"

// sha256-simd picks SHA-NI, AVX-512 or AVX2 at runtime and falls back to
// its generic code otherwise.
const sha256Backend = "sha256-simd"

func init() { sha256Sum = simdsha.Sum256 }
