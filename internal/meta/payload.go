package meta

import (
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Flatten renders an envelope (and optional chunk identity) as the flat
// map stored under the "meta" payload key. Optional fields are omitted
// when empty so fingerprints and payloads agree on shape.
func Flatten(env Envelope, chunk *ChunkInfo) map[string]any {
	m := map[string]any{
		"doc_id":        env.DocID,
		"version":       env.Version,
		"category":      string(env.Category),
		"status":        string(env.Status),
		"hash_content":  env.HashContent,
		"metadata_hash": env.MetadataHash,
		"created_at":    FormatTime(env.CreatedAt),
		"updated_at":    FormatTime(env.UpdatedAt),
		"source":        string(env.Source),
		"repo":          env.Repo,
		"tags":          append([]string{}, env.Tags...),
	}
	if env.FilePath != "" {
		m["file_path"] = env.FilePath
	}
	if env.FileHash != "" {
		m["file_hash"] = env.FileHash
	}
	if chunk != nil {
		m["chunk_id"] = chunk.ChunkID
		m["chunk_index"] = chunk.Index
		m["parent_doc_id"] = chunk.ParentDocID
		m["is_chunk"] = true
		m["total_chunks"] = chunk.Total
	}
	return m
}

// FromPayload parses the flat "meta" map back into an envelope and, for
// chunk records, the chunk identity. Unknown keys are ignored so older
// payloads and caller extensions survive round trips.
func FromPayload(m map[string]any) (Envelope, *ChunkInfo, error) {
	if m == nil {
		return Envelope{}, nil, kberrors.New(kberrors.KindInternal, "record has no metadata payload")
	}

	env := Envelope{
		DocID:        str(m, "doc_id"),
		Version:      str(m, "version"),
		Category:     Category(str(m, "category")),
		Status:       Status(str(m, "status")),
		HashContent:  str(m, "hash_content"),
		MetadataHash: str(m, "metadata_hash"),
		FilePath:     str(m, "file_path"),
		FileHash:     str(m, "file_hash"),
		Source:       Source(str(m, "source")),
		Repo:         str(m, "repo"),
		Tags:         strs(m, "tags"),
	}
	if env.DocID == "" {
		return Envelope{}, nil, kberrors.New(kberrors.KindInternal, "record metadata is missing doc_id")
	}

	if s := str(m, "created_at"); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return Envelope{}, nil, kberrors.Wrapf(err, kberrors.KindInternal, "record %s has malformed created_at", env.DocID)
		}
		env.CreatedAt = t
	}
	if s := str(m, "updated_at"); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return Envelope{}, nil, kberrors.Wrapf(err, kberrors.KindInternal, "record %s has malformed updated_at", env.DocID)
		}
		env.UpdatedAt = t
	}

	var chunk *ChunkInfo
	if b, ok := m["is_chunk"].(bool); ok && b {
		chunk = &ChunkInfo{
			ChunkID:     str(m, "chunk_id"),
			Index:       num(m, "chunk_index"),
			ParentDocID: str(m, "parent_doc_id"),
			Total:       num(m, "total_chunks"),
		}
	}
	return env, chunk, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// num tolerates the integer encodings seen across backends: int from
// the in-memory store, int64 from qdrant payloads, float64 from JSON.
func num(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func strs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
