//go:build !nojsonsimd

package main

import "github.com/bytedance/sonic"

// Stratum frames are small and arrive in bursts on new blocks; the compatible
// config keeps map key order and escaping identical to encoding/json.
var fastJSON = sonic.ConfigStd

func fastJSONMarshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}

func jsonImplementationName() string {
	return "sonic"
}
