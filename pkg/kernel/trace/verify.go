package trace

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace file.
type VerifyResult struct {
	EventCount     int
	Valid          bool
	BrokenAt       int // -1 if no break
	Complete       bool
	Signed         bool
	SignatureOK    bool
	SignatureNoKey bool // signature present but no key to verify
	ChainHash      string
	Error          string
}

// VerifyFile verifies the hash chain and optional signature of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks hash chain integrity and the optional HMAC signature.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	broken := func(count int, format string, a ...any) *VerifyResult {
		return &VerifyResult{EventCount: count, BrokenAt: count, Error: fmt.Sprintf(format, a...)}
	}

	expected := genesis
	count := 0
	var last Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, "event %d: invalid JSON: %v", count, err), nil
		}
		if evt.PrevHash != expected {
			return broken(count, "event %d: prev_hash mismatch (expected %s, got %s)", count, short(expected), short(evt.PrevHash)), nil
		}
		h := sha256.Sum256(line)
		expected = hex.EncodeToString(h[:])
		last = evt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	result := &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}
	if last.Type != EventRunComplete || last.Data == nil {
		return result, nil
	}
	result.Complete = true

	chain, _ := last.Data["chain_hash"].(string)
	result.ChainHash = chain
	if chain != last.PrevHash {
		result.Valid = false
		result.BrokenAt = count
		result.Error = "run_complete chain_hash does not match the preceding event"
		return result, nil
	}
	if sig, ok := last.Data["signature"].(string); ok {
		result.Signed = true
		key := os.Getenv(SigningKeyEnv)
		if key == "" {
			result.SignatureNoKey = true
		} else {
			result.SignatureOK = hmac.Equal([]byte(sig), []byte(sign(key, chain)))
		}
	}
	return result, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
