package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const envelopeVersion = 2

// envelope is the stored form of every value. The payload is gob so decimals
// keep their exponent ("0.2000" stays at scale 4) and timestamps their
// nanoseconds; JSON would trim trailing zeros.
type envelope struct {
	V  int       `json:"v"`
	At time.Time `json:"at"`
	D  []byte    `json:"d"`
}

var errCorrupt = errors.New("corrupt cache entry")

func encode(value any, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(envelope{V: envelopeVersion, At: now.UTC(), D: buf.Bytes()})
}

func decode(raw []byte, dst any) (time.Time, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if env.V != envelopeVersion || len(env.D) == 0 {
		return time.Time{}, fmt.Errorf("%w: envelope version %d", errCorrupt, env.V)
	}
	if err := gob.NewDecoder(bytes.NewReader(env.D)).Decode(dst); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return env.At, nil
}

var globReplacer = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
)

// EscapeGlob makes s match only itself inside a pattern.
func EscapeGlob(s string) string {
	return globReplacer.Replace(s)
}
