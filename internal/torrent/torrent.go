// Package torrent decodes bencoded .torrent files into descriptors and
// computes their canonical info-hash.
package torrent

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // v1 info-hashes are SHA-1
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/anacrolix/torrent/bencode"
)

// ErrInvalidTorrent is returned when the buffer is not a torrent metainfo file.
var ErrInvalidTorrent = errors.New("invalid torrent")

// MetaVersion identifies the metainfo format that decided the hash function.
type MetaVersion string

// Supported metainfo versions.
const (
	MetaV1 MetaVersion = "v1"
	MetaV2 MetaVersion = "v2"
)

const unnamed = "unnamed"

// File is one entry of the torrent's content listing.
type File struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// Descriptor is the structured view of a decoded torrent file.
type Descriptor struct {
	MetaVersion MetaVersion `json:"meta_version"`
	InfoHash    string      `json:"info_hash"`
	Name        string      `json:"name"`
	Files       []File      `json:"files"`
	TotalSize   int64       `json:"size"`
}

// SingleFile reports whether the torrent carries exactly one file.
func (d Descriptor) SingleFile() bool {
	return len(d.Files) == 1
}

// Decode parses raw torrent bytes. The info dictionary is re-encoded in
// canonical form and hashed with SHA-256 when it declares meta version 2,
// SHA-1 otherwise.
func Decode(data []byte) (Descriptor, error) {
	var top any
	if err := bencode.NewDecoder(bytes.NewReader(data)).Decode(&top); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}
	root, ok := top.(map[string]any)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: top-level value is not a dictionary", ErrInvalidTorrent)
	}
	rawInfo, ok := root["info"]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: missing info dict", ErrInvalidTorrent)
	}
	info, ok := rawInfo.(map[string]any)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: info is not a dictionary", ErrInvalidTorrent)
	}

	version, infoHash, err := hashInfo(info)
	if err != nil {
		return Descriptor{}, err
	}

	name := strings.TrimSpace(decodeText(stringValue(info["name"])))
	if name == "" {
		name = unnamed
	}

	desc := Descriptor{
		MetaVersion: version,
		InfoHash:    infoHash,
		Name:        name,
	}
	if list, ok := info["files"].([]any); ok {
		desc.Files = make([]File, 0, len(list))
		for _, entry := range list {
			f, _ := entry.(map[string]any)
			file := File{
				Path:   joinPath(f["path"]),
				Length: intValue(f["length"]),
			}
			desc.Files = append(desc.Files, file)
			desc.TotalSize += file.Length
		}
		return desc, nil
	}
	length := intValue(info["length"])
	desc.Files = []File{{Path: name, Length: length}}
	desc.TotalSize = length
	return desc, nil
}

func hashInfo(info map[string]any) (MetaVersion, string, error) {
	encoded, err := bencode.Marshal(info)
	if err != nil {
		return "", "", fmt.Errorf("%w: re-encode info: %v", ErrInvalidTorrent, err)
	}
	version := MetaV1
	var h hash.Hash
	if mv, ok := info["meta version"].(int64); ok && mv == 2 {
		version = MetaV2
		h = sha256.New()
	} else {
		h = sha1.New()
	}
	h.Write(encoded)
	return version, hex.EncodeToString(h.Sum(nil)), nil
}

func joinPath(v any) string {
	segments, _ := v.([]any)
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, decodeText(stringValue(seg)))
	}
	return strings.Join(parts, "/")
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func intValue(v any) int64 {
	n, _ := v.(int64)
	return n
}
