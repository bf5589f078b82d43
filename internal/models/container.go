package models

import "time"

// ContainerInfo describes one decoded vault file without any secret
// material.
type ContainerInfo struct {
	Name        string        `json:"name"`
	SHA256      string        `json:"sha256"`
	Size        int           `json:"size"`
	Version     string        `json:"version"`
	Cipher      string        `json:"cipher"`
	KDF         string        `json:"kdf"`
	Compression string        `json:"compression"`
	InnerStream string        `json:"inner_stream,omitempty"`
	Generator   string        `json:"generator,omitempty"`
	Database    string        `json:"database,omitempty"`
	Groups      int           `json:"groups"`
	Entries     int           `json:"entries"`
	DecodeTime  time.Duration `json:"decode_time"`
}
