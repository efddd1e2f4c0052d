package main

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type protocolVariant int

const (
	// variantLogin is the flat-blob protocol: login / job / submit.
	variantLogin protocolVariant = iota
	// variantMining is the header-fragment protocol: mining.subscribe,
	// mining.authorize, mining.notify, mining.set_difficulty, mining.submit.
	variantMining
)

func (v protocolVariant) String() string {
	switch v {
	case variantLogin:
		return "login"
	case variantMining:
		return "mining"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Algorithms whose pools speak the mining.* dialect. Everything else is
// treated as a CryptoNote-style login pool.
var miningDialectAlgorithms = map[string]struct{}{
	"sha256":     {},
	"autolykos2": {},
	"octopus":    {},
	"kawpow":     {},
}

func variantForAlgorithm(algo string) protocolVariant {
	if _, ok := miningDialectAlgorithms[strings.ToLower(strings.TrimSpace(algo))]; ok {
		return variantMining
	}
	return variantLogin
}

var errUnsupportedShare = errors.New("share does not match protocol variant")

// stratumCodec turns frames into tagged messages and requests into frames.
// Implementations are safe for concurrent use: Decode runs on the socket
// goroutine while Submit is called from the engine.
type stratumCodec interface {
	Variant() protocolVariant
	// Reset forgets per-connection state; request ids restart at 1.
	Reset()
	// Handshake returns the bootstrap requests to send once connected.
	Handshake(identity, credential string) ([]outboundFrame, error)
	Submit(share Share) (outboundFrame, error)
	// KeepAlive returns a keepalive request when the dialect has one.
	KeepAlive() (outboundFrame, bool)
	Decode(frame []byte) (inboundMessage, error)
}

func newStratumCodec(variant protocolVariant, agent string) stratumCodec {
	if variant == variantMining {
		return newMiningCodec(agent)
	}
	return newLoginCodec(agent)
}

// codecBase tracks request ids and the method each pending id was sent
// with, which is how replies are told apart.
type codecBase struct {
	mu      sync.Mutex
	agent   string
	nextID  uint64
	pending map[uint64]string
}

func (b *codecBase) resetLocked() {
	b.nextID = 1
	b.pending = make(map[uint64]string)
}

func (b *codecBase) requestLocked(method string, params any) (outboundFrame, error) {
	if b.pending == nil {
		b.resetLocked()
	}
	id := b.nextID
	data, err := fastJSONMarshal(stratumRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return outboundFrame{}, fmt.Errorf("encode %s: %w", method, err)
	}
	b.nextID++
	b.pending[id] = method
	return outboundFrame{ID: id, Method: method, Data: append(data, '\n')}, nil
}

func (b *codecBase) takePendingLocked(id uint64) (string, bool) {
	method, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	return method, ok
}

// decodeEnvelope parses a frame and classifies it. Calls carry a method
// (notifications have no id); replies carry an id and no method.
func decodeEnvelope(frame []byte) (env stratumEnvelope, id uint64, hasID bool, err error) {
	if err := fastJSONUnmarshal(frame, &env); err != nil {
		return env, 0, false, fmt.Errorf("decode frame: %w", err)
	}
	id, hasID = parseRequestID(env.ID)
	return env, id, hasID, nil
}

// shareReply maps a reply to a submit (or an unknown id) onto accept/reject.
func shareReply(id uint64, result, errRaw stdjson.RawMessage, raw []byte) inboundMessage {
	if code, msg, ok := parseStratumError(errRaw); ok {
		return shareRejectedMsg{RequestID: id, Code: code, Reason: msg}
	}
	switch parseVerdict(result) {
	case verdictAccept:
		return shareAcceptedMsg{RequestID: id}
	case verdictReject:
		return shareRejectedMsg{RequestID: id, Reason: "rejected"}
	}
	return otherMsg{Raw: append([]byte(nil), raw...)}
}
