package main

import (
	stdjson "encoding/json"
	"fmt"
	"strings"
	"time"
)

const alreadySubscribedMessage = "already subscribed"

// miningCodec speaks the mining.* dialect. It owns the session extranonce
// and the current share difficulty, both of which are stamped into every
// job it builds.
type miningCodec struct {
	codecBase
	identity        string
	extraNonce1     string
	extraNonce2Size int
	difficulty      float64
}

func newMiningCodec(agent string) *miningCodec {
	c := &miningCodec{}
	c.agent = agent
	c.resetSessionLocked()
	return c
}

func (c *miningCodec) resetSessionLocked() {
	c.resetLocked()
	c.extraNonce1 = ""
	c.extraNonce2Size = defaultExtranonce2Size
	c.difficulty = 1
}

func (c *miningCodec) Variant() protocolVariant { return variantMining }

func (c *miningCodec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSessionLocked()
}

// Handshake pipelines subscribe and authorize; the server handles them in
// order so authorize never races the subscription.
func (c *miningCodec) Handshake(identity, credential string) ([]outboundFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	sub, err := c.requestLocked("mining.subscribe", []string{c.agent})
	if err != nil {
		return nil, err
	}
	auth, err := c.requestLocked("mining.authorize", []string{identity, credential})
	if err != nil {
		return nil, err
	}
	return []outboundFrame{sub, auth}, nil
}

func (c *miningCodec) Submit(share Share) (outboundFrame, error) {
	if share.ExtraNonce2 == "" || share.NTime == "" || share.Nonce == "" {
		return outboundFrame{}, errUnsupportedShare
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked("mining.submit", []string{c.identity, share.JobID, share.ExtraNonce2, share.NTime, share.Nonce})
}

func (c *miningCodec) KeepAlive() (outboundFrame, bool) {
	return outboundFrame{}, false
}

func (c *miningCodec) Decode(frame []byte) (inboundMessage, error) {
	env, id, hasID, err := decodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	if env.Method != "" {
		return c.decodeCall(env, frame)
	}
	if !hasID {
		return otherMsg{Raw: append([]byte(nil), frame...)}, nil
	}

	// Duplicate subscribe errors are answered to whatever id the server
	// thinks it saw, so check before routing by method.
	if _, msg, ok := parseStratumError(env.Error); ok && isAlreadySubscribed(msg) {
		c.mu.Lock()
		c.takePendingLocked(id)
		c.mu.Unlock()
		logger.Debug("pool reported duplicate subscribe", "id", id)
		return otherMsg{Method: "mining.subscribe", Raw: append([]byte(nil), frame...)}, nil
	}

	c.mu.Lock()
	method, _ := c.takePendingLocked(id)
	c.mu.Unlock()

	switch method {
	case "mining.subscribe":
		return c.decodeSubscribeReply(env, frame)
	case "mining.authorize":
		if _, msg, failed := parseStratumError(env.Error); failed {
			return authorizedMsg{OK: false, Reason: msg}, nil
		}
		if parseVerdict(env.Result) == verdictAccept {
			return authorizedMsg{OK: true}, nil
		}
		return authorizedMsg{OK: false, Reason: "authorization refused"}, nil
	default:
		return shareReply(id, env.Result, env.Error, frame), nil
	}
}

func isAlreadySubscribed(msg string) bool {
	return strings.Contains(strings.ToLower(msg), alreadySubscribedMessage)
}

func (c *miningCodec) decodeSubscribeReply(env stratumEnvelope, frame []byte) (inboundMessage, error) {
	if _, msg, failed := parseStratumError(env.Error); failed {
		logger.Warn("mining.subscribe failed", "reason", msg)
		return otherMsg{Method: "mining.subscribe", Raw: append([]byte(nil), frame...)}, nil
	}
	var result []stdjson.RawMessage
	if err := fastJSONUnmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("decode subscribe result: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("subscribe result has %d elements, want 3", len(result))
	}
	var en1 string
	if err := fastJSONUnmarshal(result[1], &en1); err != nil {
		return nil, fmt.Errorf("decode extranonce1: %w", err)
	}
	var en2Size int
	if err := fastJSONUnmarshal(result[2], &en2Size); err != nil {
		return nil, fmt.Errorf("decode extranonce2 size: %w", err)
	}
	return c.applyExtranonce(en1, en2Size)
}

func (c *miningCodec) applyExtranonce(en1 string, en2Size int) (inboundMessage, error) {
	if !isHexString(en1) {
		return nil, fmt.Errorf("extranonce1 %q is not hex", en1)
	}
	if en2Size <= 0 || en2Size > 8 {
		return nil, fmt.Errorf("extranonce2 size %d out of range", en2Size)
	}
	c.mu.Lock()
	c.extraNonce1 = strings.ToLower(en1)
	c.extraNonce2Size = en2Size
	c.mu.Unlock()
	return subscribedMsg{ExtraNonce1: en1, ExtraNonce2Size: en2Size}, nil
}

func (c *miningCodec) decodeCall(env stratumEnvelope, frame []byte) (inboundMessage, error) {
	switch env.Method {
	case "mining.notify":
		return c.decodeNotify(env.Params)
	case "mining.set_difficulty":
		v, err := firstNumberParam(env.Params)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid difficulty %v", v)
		}
		c.mu.Lock()
		c.difficulty = v
		c.mu.Unlock()
		return difficultyMsg{Value: v}, nil
	case "mining.set_extranonce":
		var params []stdjson.RawMessage
		if err := fastJSONUnmarshal(env.Params, &params); err != nil {
			return nil, fmt.Errorf("decode set_extranonce params: %w", err)
		}
		if len(params) < 2 {
			return nil, fmt.Errorf("mining.set_extranonce has %d params, want 2", len(params))
		}
		var en1 string
		var size int
		if err := fastJSONUnmarshal(params[0], &en1); err != nil {
			return nil, fmt.Errorf("decode extranonce1: %w", err)
		}
		if err := fastJSONUnmarshal(params[1], &size); err != nil {
			return nil, fmt.Errorf("decode extranonce2 size: %w", err)
		}
		return c.applyExtranonce(en1, size)
	default:
		return otherMsg{Method: env.Method, Raw: append([]byte(nil), frame...)}, nil
	}
}

// decodeNotify parses the nine positional mining.notify params:
// job id, prevhash, coinb1, coinb2, merkle branch, version, nbits, ntime,
// clean jobs.
func (c *miningCodec) decodeNotify(raw stdjson.RawMessage) (inboundMessage, error) {
	var params []stdjson.RawMessage
	if err := fastJSONUnmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode notify params: %w", err)
	}
	if len(params) < 9 {
		return nil, fmt.Errorf("mining.notify has %d params, want 9", len(params))
	}
	var (
		jobID, prevHash, coinb1, coinb2 string
		version, bits, ntime            string
		branch                          []string
		clean                           bool
	)
	fields := []struct {
		name string
		dst  any
	}{
		{"job_id", &jobID},
		{"prevhash", &prevHash},
		{"coinb1", &coinb1},
		{"coinb2", &coinb2},
		{"merkle_branch", &branch},
		{"version", &version},
		{"nbits", &bits},
		{"ntime", &ntime},
		{"clean_jobs", &clean},
	}
	for i, f := range fields {
		if err := fastJSONUnmarshal(params[i], f.dst); err != nil {
			return nil, fmt.Errorf("decode notify %s: %w", f.name, err)
		}
	}
	if jobID == "" {
		return nil, fmt.Errorf("mining.notify without job id")
	}
	if len(prevHash) != 64 || !isHexString(prevHash) {
		return nil, fmt.Errorf("job %s: bad prevhash %q", jobID, prevHash)
	}
	for _, v := range []struct{ name, val string }{{"version", version}, {"nbits", bits}, {"ntime", ntime}} {
		if len(v.val) != 8 || !isHexString(v.val) {
			return nil, fmt.Errorf("job %s: bad %s %q", jobID, v.name, v.val)
		}
	}
	if !isHexString(coinb1) || !isHexString(coinb2) {
		return nil, fmt.Errorf("job %s: coinbase parts are not hex", jobID)
	}
	for _, b := range branch {
		if len(b) != 64 || !isHexString(b) {
			return nil, fmt.Errorf("job %s: bad merkle branch %q", jobID, b)
		}
	}

	c.mu.Lock()
	diff := c.difficulty
	en1 := c.extraNonce1
	en2Size := c.extraNonce2Size
	c.mu.Unlock()

	target := targetFromDifficulty(diff)
	return jobMsg{Job: &Job{
		ID:              jobID,
		Variant:         variantMining,
		PrevHash:        prevHash,
		Coinbase1:       coinb1,
		Coinbase2:       coinb2,
		MerkleBranch:    branch,
		Version:         version,
		Bits:            bits,
		NTime:           ntime,
		ExtraNonce1:     en1,
		ExtraNonce2Size: en2Size,
		Target:          target,
		Difficulty:      diff,
		CleanJobs:       clean,
		ReceivedAt:      time.Now(),
	}}, nil
}

func isHexString(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
