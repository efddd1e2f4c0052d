//go:build noavx

package main

import stdsha "crypto/sha256"

const sha256Backend = "crypto/sha256"

func init() { sha256Sum = stdsha.Sum256 }
