package packets

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
)

// FingerprintInput holds the semantic content that identifies a trading idea.
type FingerprintInput struct {
	Symbol        string
	SignalSource  string
	Bias          string
	TimeframeBias []string
	EntryZone     interface{}
	Invalidation  interface{}
	RiskScore     *float64
}

type fingerprintDoc struct {
	Symbol        string      `json:"symbol"`
	SignalSource  string      `json:"signal_source"`
	Bias          string      `json:"bias"`
	TimeframeBias []string    `json:"timeframe_bias"`
	EntryZone     interface{} `json:"entry_zone"`
	Invalidation  interface{} `json:"invalidation"`
	RiskScore     *float64    `json:"risk_score"`
}

// Fingerprint returns the hex sha256 of the canonical JSON of in.
// It returns "" when the input is too sparse to identify an idea: a symbol
// plus at least one of signal source, bias or entry zone is required.
func Fingerprint(in FingerprintInput) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
	if symbol == "" {
		return "", nil
	}
	if in.SignalSource == "" && in.Bias == "" && in.EntryZone == nil {
		return "", nil
	}

	tf := append([]string{}, in.TimeframeBias...)
	sort.Strings(tf)

	raw, err := json.Marshal(fingerprintDoc{
		Symbol:        symbol,
		SignalSource:  in.SignalSource,
		Bias:          in.Bias,
		TimeframeBias: tf,
		EntryZone:     in.EntryZone,
		Invalidation:  in.Invalidation,
		RiskScore:     in.RiskScore,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// FallbackID derives a stable packet id for events that carry a status but
// no identifier, so retries land on the same packet.
func FallbackID(workflowID, symbol string) string {
	sum := sha256.Sum256([]byte(workflowID + "|" + strings.ToUpper(symbol)))
	return "dp_" + hex.EncodeToString(sum[:])[:16]
}
