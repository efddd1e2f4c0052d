package main

// sha256Sum is bound at init by build tag: sha256-simd by default,
// crypto/sha256 with -tags noavx.
var sha256Sum func([]byte) [32]byte

func sha256ImplementationName() string { return sha256Backend }

// doubleSHA256 is the sha256d used for block headers and the default kernel.
func doubleSHA256(b []byte) [32]byte {
	first := sha256Sum(b)
	return sha256Sum(first[:])
}
