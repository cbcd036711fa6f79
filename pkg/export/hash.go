package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// HashAlgorithm identifies the hashing algorithm used for manifest hashes.
const HashAlgorithm = "SHA-256"

// ManifestConfig holds the inputs that identify an exported session. Two
// exports of the same questions over the same table with the same settings
// hash identically.
type ManifestConfig struct {
	ToolVersion string    `json:"tool_version"`
	SessionID   string    `json:"session_id"`
	DatasetRef  string    `json:"dataset_ref"`
	TurnCount   int       `json:"turn_count"`
	Questions   []string  `json:"questions"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`

	// Parameters holds settings that affect answers (model, codegen mode).
	// Keys are sorted during hashing.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Manifest is the computed hash and what it covers.
type Manifest struct {
	Hash       string          `json:"hash"`
	Algorithm  string          `json:"algorithm"`
	ComputedAt time.Time       `json:"computed_at"`
	Config     *ManifestConfig `json:"config"`
}

// HashBuilder constructs manifests.
type HashBuilder struct {
	config *ManifestConfig
}

// NewHashBuilder creates an empty HashBuilder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{
		config: &ManifestConfig{
			Parameters: make(map[string]string),
		},
	}
}

// WithToolVersion sets the tool version.
func (hb *HashBuilder) WithToolVersion(version string) *HashBuilder {
	hb.config.ToolVersion = version
	return hb
}

// WithSession sets the session and dataset identifiers.
func (hb *HashBuilder) WithSession(sessionID, datasetRef string) *HashBuilder {
	hb.config.SessionID = sessionID
	hb.config.DatasetRef = datasetRef
	return hb
}

// WithQuestions sets the questions in the order they were asked.
func (hb *HashBuilder) WithQuestions(questions []string) *HashBuilder {
	hb.config.Questions = append([]string(nil), questions...)
	hb.config.TurnCount = len(questions)
	return hb
}

// WithTimeRange sets the start and end times.
func (hb *HashBuilder) WithTimeRange(start, end time.Time) *HashBuilder {
	hb.config.StartTime = start
	hb.config.EndTime = end
	return hb
}

// WithParameter adds a setting.
func (hb *HashBuilder) WithParameter(key, value string) *HashBuilder {
	if hb.config.Parameters == nil {
		hb.config.Parameters = make(map[string]string)
	}
	hb.config.Parameters[key] = value
	return hb
}

// WithParameters adds multiple settings.
func (hb *HashBuilder) WithParameters(params map[string]string) *HashBuilder {
	for k, v := range params {
		hb.WithParameter(k, v)
	}
	return hb
}

// Build computes the manifest. The hash is deterministic.
func (hb *HashBuilder) Build() *Manifest {
	return &Manifest{
		Hash:       computeHash(hb.config),
		Algorithm:  HashAlgorithm,
		ComputedAt: time.Now(),
		Config:     hb.config,
	}
}

// computeHash hashes a canonical rendering of config with a fixed field order.
func computeHash(config *ManifestConfig) string {
	var sb strings.Builder

	sb.WriteString("version:" + config.ToolVersion + "|")
	sb.WriteString("session:" + config.SessionID + "|")
	sb.WriteString("dataset:" + config.DatasetRef + "|")
	sb.WriteString("turns:" + strconv.Itoa(config.TurnCount) + "|")

	// Lengths keep ["a|b"] and ["a", "b"] apart.
	for _, q := range config.Questions {
		sb.WriteString("q" + strconv.Itoa(len(q)) + ":" + q + "|")
	}

	sb.WriteString("start:" + config.StartTime.UTC().Format(time.RFC3339) + "|")
	sb.WriteString("end:" + config.EndTime.UTC().Format(time.RFC3339) + "|")

	if len(config.Parameters) > 0 {
		keys := make([]string, 0, len(config.Parameters))
		for k := range config.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("params:")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(k + "=" + config.Parameters[k])
		}
		sb.WriteString("|")
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 8 characters of the full hash.
func (m *Manifest) ShortHash() string {
	if len(m.Hash) >= 8 {
		return m.Hash[:8]
	}
	return m.Hash
}

// Verify recomputes the hash and reports whether it matches.
func (m *Manifest) Verify() bool {
	if m.Config == nil {
		return false
	}
	return computeHash(m.Config) == m.Hash
}

// ToJSON returns the manifest as indented JSON.
func (m *Manifest) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}
