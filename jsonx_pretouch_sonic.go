//go:build !nojsonsimd

package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

func init() {
	// Pretouch the frame types so the first job after connect does not pay
	// for sonic's codegen. Failures fall back to lazy compilation.
	_ = sonic.Pretouch(reflect.TypeOf(stratumEnvelope{}))
	_ = sonic.Pretouch(reflect.TypeOf(stratumRequest{}))
	_ = sonic.Pretouch(reflect.TypeOf(loginJobParams{}))
	_ = sonic.Pretouch(reflect.TypeOf(loginResult{}))
	_ = sonic.Pretouch(reflect.TypeOf(EngineEvent{}))
}
