package token

import (
	"encoding/json"
	"time"
)

// Record is one issued relay token. The plaintext is shown exactly once at
// creation; only the bcrypt digest is persisted.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TokenHash string    `json:"token_hash"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt zero means the token never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Last-use bookkeeping. LastUsedIP and LastUsedUserAgent together form the
	// device fingerprint the session guard compares against.
	LastUsedAt        time.Time `json:"last_used_at,omitempty"`
	LastUsedIP        string    `json:"last_used_ip,omitempty"`
	LastUsedUserAgent string    `json:"last_used_user_agent,omitempty"`
	RequestCount      int64     `json:"request_count"`
}

// Expired reports whether the record is past its expiry at the given instant.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Fingerprint is the device identity bound to a token's active session.
type Fingerprint struct {
	IP        string
	UserAgent string
}

// Matches reports whether the record's last-use fingerprint equals fp. A
// record that has never been used matches nothing.
func (r *Record) Matches(fp Fingerprint) bool {
	if r.LastUsedAt.IsZero() {
		return false
	}
	return r.LastUsedIP == fp.IP && r.LastUsedUserAgent == fp.UserAgent
}

// 存储层只认 schemaless map，序列化经 JSON 往返保证字段命名一致
func (r *Record) toDoc() (map[string]interface{}, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func recordFromDoc(doc map[string]interface{}) (*Record, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
