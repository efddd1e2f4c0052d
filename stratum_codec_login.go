package main

import (
	stdjson "encoding/json"
	"fmt"
	"strings"
	"time"

	fasthex "github.com/tmthrgd/go-hex"
)

type loginParams struct {
	Login string `json:"login"`
	Pass  string `json:"pass"`
	Agent string `json:"agent"`
}

type loginSubmitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

type loginKeepAliveParams struct {
	ID string `json:"id"`
}

type loginJobParams struct {
	Blob     string `json:"blob"`
	JobID    string `json:"job_id"`
	Target   string `json:"target"`
	ID       string `json:"id"`
	Height   uint64 `json:"height"`
	SeedHash string `json:"seed_hash"`
	Algo     string `json:"algo"`
}

type loginResult struct {
	ID     string          `json:"id"`
	Job    *loginJobParams `json:"job"`
	Status string          `json:"status"`
}

// loginCodec speaks the flat-blob dialect. The login reply carries the
// session id and usually the first job.
type loginCodec struct {
	codecBase
	sessionID string
}

func newLoginCodec(agent string) *loginCodec {
	c := &loginCodec{}
	c.agent = agent
	c.resetLocked()
	return c
}

func (c *loginCodec) Variant() protocolVariant { return variantLogin }

func (c *loginCodec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.sessionID = ""
}

func (c *loginCodec) Handshake(identity, credential string) ([]outboundFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.requestLocked("login", loginParams{Login: identity, Pass: credential, Agent: c.agent})
	if err != nil {
		return nil, err
	}
	return []outboundFrame{f}, nil
}

func (c *loginCodec) Submit(share Share) (outboundFrame, error) {
	if share.Nonce == "" || share.Result == "" {
		return outboundFrame{}, errUnsupportedShare
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.sessionID
	if id == "" {
		id = share.JobID
	}
	return c.requestLocked("submit", loginSubmitParams{
		ID:     id,
		JobID:  share.JobID,
		Nonce:  share.Nonce,
		Result: share.Result,
	})
}

func (c *loginCodec) KeepAlive() (outboundFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return outboundFrame{}, false
	}
	f, err := c.requestLocked("keepalived", loginKeepAliveParams{ID: c.sessionID})
	if err != nil {
		return outboundFrame{}, false
	}
	return f, true
}

func (c *loginCodec) Decode(frame []byte) (inboundMessage, error) {
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

	c.mu.Lock()
	method, known := c.takePendingLocked(id)
	c.mu.Unlock()

	switch {
	case known && method == "login":
		return c.decodeLoginReply(env)
	case known && method == "keepalived":
		return otherMsg{Method: method, Raw: append([]byte(nil), frame...)}, nil
	default:
		return shareReply(id, env.Result, env.Error, frame), nil
	}
}

func (c *loginCodec) decodeCall(env stratumEnvelope, frame []byte) (inboundMessage, error) {
	switch env.Method {
	case "job":
		var params loginJobParams
		if err := fastJSONUnmarshal(env.Params, &params); err != nil {
			return nil, fmt.Errorf("decode job params: %w", err)
		}
		job, err := buildLoginJob(params, time.Now())
		if err != nil {
			return nil, err
		}
		return jobMsg{Job: job}, nil
	case "mining.set_difficulty":
		v, err := firstNumberParam(env.Params)
		if err != nil {
			return nil, err
		}
		return difficultyMsg{Value: v}, nil
	default:
		return otherMsg{Method: env.Method, Raw: append([]byte(nil), frame...)}, nil
	}
}

func (c *loginCodec) decodeLoginReply(env stratumEnvelope) (inboundMessage, error) {
	if _, msg, failed := parseStratumError(env.Error); failed {
		return authorizedMsg{OK: false, Reason: msg}, nil
	}
	var res loginResult
	if err := fastJSONUnmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("decode login result: %w", err)
	}
	c.mu.Lock()
	c.sessionID = res.ID
	c.mu.Unlock()
	if res.Job == nil {
		ok := res.Status == "" || strings.EqualFold(res.Status, "OK")
		return authorizedMsg{OK: ok, Reason: res.Status}, nil
	}
	job, err := buildLoginJob(*res.Job, time.Now())
	if err != nil {
		return nil, err
	}
	return jobMsg{Job: job, FromLogin: true}, nil
}

func buildLoginJob(p loginJobParams, now time.Time) (*Job, error) {
	if p.JobID == "" {
		return nil, fmt.Errorf("job without job_id")
	}
	blob, err := fasthex.DecodeString(p.Blob)
	if err != nil {
		return nil, fmt.Errorf("decode blob for job %s: %w", p.JobID, err)
	}
	if len(blob) < nonceOffsetFlatBlob+4 {
		return nil, fmt.Errorf("blob for job %s too short: %d bytes", p.JobID, len(blob))
	}
	target, err := targetFromWireHex(p.Target)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", p.JobID, err)
	}
	return &Job{
		ID:          p.JobID,
		Variant:     variantLogin,
		Blob:        blob,
		NonceOffset: nonceOffsetFlatBlob,
		Height:      p.Height,
		SeedHash:    p.SeedHash,
		Algo:        p.Algo,
		Target:      target,
		Difficulty:  difficultyFromTarget(target),
		CleanJobs:   true,
		ReceivedAt:  now,
	}, nil
}

func firstNumberParam(raw stdjson.RawMessage) (float64, error) {
	var params []float64
	if err := fastJSONUnmarshal(raw, &params); err != nil {
		return 0, fmt.Errorf("decode numeric params: %w", err)
	}
	if len(params) == 0 {
		return 0, fmt.Errorf("missing numeric param")
	}
	return params[0], nil
}
