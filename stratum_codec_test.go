package main

import (
	stdjson "encoding/json"
	"strings"
	"testing"
)

var testBlobHex = strings.Repeat("0a", 76)

func decodeRequest(t *testing.T, f outboundFrame) map[string]any {
	t.Helper()
	if !strings.HasSuffix(string(f.Data), "\n") {
		t.Fatalf("frame %q not newline terminated", f.Data)
	}
	var req map[string]any
	if err := stdjson.Unmarshal(f.Data, &req); err != nil {
		t.Fatalf("unmarshal %q: %v", f.Data, err)
	}
	return req
}

func TestVariantForAlgorithm(t *testing.T) {
	cases := map[string]protocolVariant{
		"SHA256":     variantMining,
		"kawpow":     variantMining,
		"Autolykos2": variantMining,
		" Octopus ":  variantMining,
		"RandomX":    variantLogin,
		"cn/r":       variantLogin,
		"":           variantLogin,
	}
	for algo, want := range cases {
		if got := variantForAlgorithm(algo); got != want {
			t.Fatalf("%q: got %s want %s", algo, got, want)
		}
	}
}

func TestLoginCodecHandshakeAndJob(t *testing.T) {
	c := newLoginCodec("test/1.0")
	frames, err := c.Handshake("wallet", "x")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one login frame, got %d", len(frames))
	}
	req := decodeRequest(t, frames[0])
	if req["method"] != "login" || req["id"] != float64(1) {
		t.Fatalf("unexpected login request: %v", req)
	}
	params := req["params"].(map[string]any)
	if params["login"] != "wallet" || params["pass"] != "x" || params["agent"] != "test/1.0" {
		t.Fatalf("unexpected login params: %v", params)
	}

	if _, ok := c.KeepAlive(); ok {
		t.Fatalf("keepalive before login must not be sent")
	}

	reply := `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"sess-42","job":{"blob":"` + testBlobHex +
		`","job_id":"j1","target":"f3220000","height":3000000,"seed_hash":"abcd","algo":"rx/0"},"status":"OK"}}`
	msg, err := c.Decode([]byte(reply))
	if err != nil {
		t.Fatalf("Decode login reply: %v", err)
	}
	jm, ok := msg.(jobMsg)
	if !ok || !jm.FromLogin {
		t.Fatalf("expected login job, got %#v", msg)
	}
	if jm.Job.ID != "j1" || jm.Job.Height != 3000000 || jm.Job.NonceOffset != nonceOffsetFlatBlob {
		t.Fatalf("unexpected job: %+v", jm.Job)
	}
	if !strings.HasPrefix(targetHex(jm.Job.Target), "000022f3ff") {
		t.Fatalf("unexpected target %s", targetHex(jm.Job.Target))
	}

	sub, err := c.Submit(Share{JobID: "j1", Nonce: "deadbeef", Result: strings.Repeat("00", 32)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sreq := decodeRequest(t, sub)
	sp := sreq["params"].(map[string]any)
	if sreq["method"] != "submit" || sp["id"] != "sess-42" || sp["job_id"] != "j1" || sp["nonce"] != "deadbeef" {
		t.Fatalf("unexpected submit: %v", sreq)
	}

	ka, ok := c.KeepAlive()
	if !ok {
		t.Fatalf("expected keepalive after login")
	}
	kreq := decodeRequest(t, ka)
	if kreq["method"] != "keepalived" || kreq["params"].(map[string]any)["id"] != "sess-42" {
		t.Fatalf("unexpected keepalive: %v", kreq)
	}

	accepted, err := c.Decode([]byte(`{"id":` + idString(sub.ID) + `,"result":{"status":"OK"},"error":null}`))
	if err != nil {
		t.Fatalf("Decode submit reply: %v", err)
	}
	if a, ok := accepted.(shareAcceptedMsg); !ok || a.RequestID != sub.ID {
		t.Fatalf("expected accept for %d, got %#v", sub.ID, accepted)
	}

	rejected, err := c.Decode([]byte(`{"id":99,"result":null,"error":{"code":-1,"message":"Low difficulty share"}}`))
	if err != nil {
		t.Fatalf("Decode reject: %v", err)
	}
	if r, ok := rejected.(shareRejectedMsg); !ok || r.Code != -1 || r.Reason != "Low difficulty share" {
		t.Fatalf("unexpected reject: %#v", rejected)
	}
}

func idString(id uint64) string {
	b, _ := stdjson.Marshal(id)
	return string(b)
}

func TestLoginCodecLoginRefused(t *testing.T) {
	c := newLoginCodec("a")
	if _, err := c.Handshake("bad", "x"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	msg, err := c.Decode([]byte(`{"id":1,"result":null,"error":{"code":-1,"message":"Invalid address"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if a, ok := msg.(authorizedMsg); !ok || a.OK || a.Reason != "Invalid address" {
		t.Fatalf("expected refused login, got %#v", msg)
	}
}

func TestLoginCodecJobNotification(t *testing.T) {
	c := newLoginCodec("a")
	msg, err := c.Decode([]byte(`{"jsonrpc":"2.0","method":"job","params":{"blob":"` + testBlobHex + `","job_id":"j2","target":"b88d0600"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	jm, ok := msg.(jobMsg)
	if !ok || jm.FromLogin || jm.Job.ID != "j2" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if _, err := c.Decode([]byte(`{"method":"job","params":{"blob":"00","job_id":"j3","target":"b88d0600"}}`)); err == nil {
		t.Fatalf("expected error for short blob")
	}
}

func TestMiningCodecHandshakeIsPipelined(t *testing.T) {
	c := newMiningCodec("test/1.0")
	frames, err := c.Handshake("wallet.rig", "x")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected subscribe and authorize, got %d frames", len(frames))
	}
	if frames[0].Method != "mining.subscribe" || frames[0].ID != 1 {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
	if frames[1].Method != "mining.authorize" || frames[1].ID != 2 {
		t.Fatalf("unexpected second frame: %+v", frames[1])
	}
	auth := decodeRequest(t, frames[1])
	if p := auth["params"].([]any); p[0] != "wallet.rig" || p[1] != "x" {
		t.Fatalf("unexpected authorize params: %v", p)
	}
}

func TestMiningCodecRouting(t *testing.T) {
	c := newMiningCodec("a")
	if _, err := c.Handshake("w", "x"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	msg, err := c.Decode([]byte(`{"id":1,"result":[[["mining.notify","ae68"]],"08000002",4],"error":null}`))
	if err != nil {
		t.Fatalf("Decode subscribe: %v", err)
	}
	if s, ok := msg.(subscribedMsg); !ok || s.ExtraNonce1 != "08000002" || s.ExtraNonce2Size != 4 {
		t.Fatalf("unexpected subscribe reply: %#v", msg)
	}

	msg, err = c.Decode([]byte(`{"id":2,"result":true,"error":null}`))
	if err != nil {
		t.Fatalf("Decode authorize: %v", err)
	}
	if a, ok := msg.(authorizedMsg); !ok || !a.OK {
		t.Fatalf("unexpected authorize reply: %#v", msg)
	}

	msg, err = c.Decode([]byte(`{"id":null,"method":"mining.set_difficulty","params":[2]}`))
	if err != nil {
		t.Fatalf("Decode set_difficulty: %v", err)
	}
	if d, ok := msg.(difficultyMsg); !ok || d.Value != 2 {
		t.Fatalf("unexpected difficulty: %#v", msg)
	}

	notify := `{"id":null,"method":"mining.notify","params":["bf","` + strings.Repeat("00", 32) +
		`","01000000","ffffffff",[],"20000000","1d00ffff","5f5e1000",true]}`
	msg, err = c.Decode([]byte(notify))
	if err != nil {
		t.Fatalf("Decode notify: %v", err)
	}
	jm, ok := msg.(jobMsg)
	if !ok {
		t.Fatalf("expected job, got %#v", msg)
	}
	if jm.Job.ExtraNonce1 != "08000002" || jm.Job.ExtraNonce2Size != 4 || !jm.Job.CleanJobs || jm.Job.Difficulty != 2 {
		t.Fatalf("job not stamped with session state: %+v", jm.Job)
	}
	if jm.Job.Target.Cmp(targetFromDifficulty(2)) != 0 {
		t.Fatalf("unexpected target %s", targetHex(jm.Job.Target))
	}

	sub, err := c.Submit(Share{JobID: "bf", ExtraNonce2: "00000001", NTime: "5f5e1000", Nonce: "0000abcd"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sreq := decodeRequest(t, sub)
	p := sreq["params"].([]any)
	if len(p) != 5 || p[0] != "w" || p[1] != "bf" || p[2] != "00000001" || p[3] != "5f5e1000" || p[4] != "0000abcd" {
		t.Fatalf("unexpected submit params: %v", p)
	}
	if _, err := c.Submit(Share{JobID: "bf", Nonce: "1"}); err == nil {
		t.Fatalf("expected error for flat-blob share")
	}

	msg, err = c.Decode([]byte(`{"id":` + idString(sub.ID) + `,"result":null,"error":[23,"Low difficulty share",null]}`))
	if err != nil {
		t.Fatalf("Decode reject: %v", err)
	}
	if r, ok := msg.(shareRejectedMsg); !ok || r.Code != 23 || r.RequestID != sub.ID {
		t.Fatalf("unexpected reject: %#v", msg)
	}
}

func TestMiningCodecAlreadySubscribedIsBenign(t *testing.T) {
	c := newMiningCodec("a")
	if _, err := c.Handshake("w", "x"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	msg, err := c.Decode([]byte(`{"id":1,"result":null,"error":[-1,"Already subscribed",null]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.(otherMsg); !ok {
		t.Fatalf("already subscribed should be ignored, got %#v", msg)
	}
}

func TestMiningCodecSetExtranonce(t *testing.T) {
	c := newMiningCodec("a")
	msg, err := c.Decode([]byte(`{"id":null,"method":"mining.set_extranonce","params":["aabb",8]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s, ok := msg.(subscribedMsg); !ok || s.ExtraNonce1 != "aabb" || s.ExtraNonce2Size != 8 {
		t.Fatalf("unexpected set_extranonce: %#v", msg)
	}
	if _, err := c.Decode([]byte(`{"id":null,"method":"mining.set_extranonce","params":["xyz",4]}`)); err == nil {
		t.Fatalf("expected error for non-hex extranonce1")
	}
}

func TestMiningCodecResetRestartsIDs(t *testing.T) {
	c := newMiningCodec("a")
	if _, err := c.Handshake("w", "x"); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	c.Reset()
	frames, err := c.Handshake("w", "x")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if frames[0].ID != 1 {
		t.Fatalf("ids did not restart: %d", frames[0].ID)
	}
}

func TestParseStratumErrorShapes(t *testing.T) {
	cases := []struct {
		raw  string
		code int
		msg  string
		ok   bool
	}{
		{`null`, 0, "", false},
		{``, 0, "", false},
		{`[21,"Job not found",null]`, 21, "Job not found", true},
		{`{"code":-1,"message":"Unauthenticated"}`, -1, "Unauthenticated", true},
		{`"boom"`, 0, "boom", true},
	}
	for _, tc := range cases {
		code, msg, ok := parseStratumError(stdjson.RawMessage(tc.raw))
		if code != tc.code || msg != tc.msg || ok != tc.ok {
			t.Fatalf("%s: got (%d,%q,%v)", tc.raw, code, msg, ok)
		}
	}
}
