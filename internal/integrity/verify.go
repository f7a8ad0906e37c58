package integrity

import (
	"fmt"
	"unicode/utf8"

	"tamperkv/internal/kv"
)

// Verify checks an externally held snapshot against the store. The snapshot
// digest must equal the recorded global digest; then every key is run
// through recovery and its entry must be self-consistent. A snapshot holding
// invalid UTF-8 is rejected with ErrInvalidKey or ErrInvalidValue; otherwise
// the error is non-nil only when a recovery could not be persisted.
func (e *Engine) Verify(candidate kv.Entries) (bool, error) {
	if err := checkCandidate(candidate); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if digest := candidate.Digest(e.h); digest != e.db.GlobalHash {
		logger.Info("verify: global digest mismatch", "candidate", digest, "recorded", e.db.GlobalHash)
		return false, nil
	}

	for _, key := range candidate.Keys() {
		if _, err := e.recover(key); err != nil {
			return false, err
		}
		if !candidate[key].Valid(e.h) {
			logger.Info("verify: entry digest mismatch", "key", key)
			return false, nil
		}
	}
	return true, nil
}

func checkCandidate(candidate kv.Entries) error {
	for key, entry := range candidate {
		if err := checkKey(key); err != nil {
			return err
		}
		if err := checkValue(key, entry.Data); err != nil {
			return err
		}
		if !utf8.ValidString(string(entry.Hash)) {
			return fmt.Errorf("%w: hash of %q is not valid UTF-8", ErrInvalidValue, key)
		}
	}
	return nil
}
