package meta

import (
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
)

// DefaultRepo is the repo recorded on envelopes when neither the input
// nor the builder names one.
const DefaultRepo = "vaultmcp"

// Input is the caller-supplied portion of an envelope. Every field is
// optional; Build fills defaults and rejects invalid enum values.
type Input struct {
	DocID    string
	Version  string
	Category string
	Status   string
	FilePath string
	FileHash string
	Source   string
	Repo     string
	Tags     []string
}

// Builder constructs validated envelopes. Now is swappable for tests.
type Builder struct {
	Repo string
	Now  func() time.Time
}

// NewBuilder returns a Builder stamping envelopes with the given repo.
func NewBuilder(repo string) *Builder {
	if repo == "" {
		repo = DefaultRepo
	}
	return &Builder{Repo: repo, Now: time.Now}
}

// Build validates in, fills defaults, and computes the metadata
// fingerprint. hashContent must already be the normalized content hash;
// when DocID is empty it is derived from it.
func (b *Builder) Build(in Input, hashContent string) (Envelope, error) {
	if hashContent == "" {
		return Envelope{}, kberrors.New(kberrors.KindInvalidMetadata, "content hash is required to build an envelope")
	}

	category := Category(in.Category)
	if category == "" {
		category = CategoryOther
	}
	if !category.Valid() {
		return Envelope{}, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid category %q", in.Category).
			WithDetail("allowed", Categories())
	}

	status := Status(in.Status)
	if status == "" {
		status = StatusActive
	}
	if !status.Valid() {
		return Envelope{}, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid status %q", in.Status).
			WithDetail("allowed", []string{string(StatusActive), string(StatusDeprecated), string(StatusDraft)})
	}

	source := Source(in.Source)
	if source == "" {
		source = SourceManual
	}
	if !source.Valid() {
		return Envelope{}, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid source %q", in.Source).
			WithDetail("allowed", []string{string(SourceManual), string(SourceGenerated), string(SourceImported)})
	}

	now := b.Now().UTC()

	docID := in.DocID
	if docID == "" {
		docID = "doc_" + hashContent[:16]
	} else if IsChunkID(docID) {
		return Envelope{}, kberrors.Newf(kberrors.KindInvalidMetadata,
			"doc_id %q collides with the derived chunk id namespace", docID)
	}

	version := in.Version
	if version == "" {
		version = FormatTime(now)
	}

	repo := in.Repo
	if repo == "" {
		repo = b.Repo
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}

	env := Envelope{
		DocID:       docID,
		Version:     version,
		Category:    category,
		Status:      status,
		HashContent: hashContent,
		CreatedAt:   now,
		UpdatedAt:   now,
		FilePath:    in.FilePath,
		FileHash:    in.FileHash,
		Source:      source,
		Repo:        repo,
		Tags:        tags,
	}
	env.MetadataHash = MetadataHash(env)
	return env, nil
}

// BuildChunk derives the envelope for one chunk of parent. The chunk
// keeps the parent's lifecycle fields and metadata fingerprint;
// only the identifier and content hash are its own. Inheriting the
// fingerprint lets chunk-count fixups patch total_chunks without
// re-fingerprinting the family.
func (b *Builder) BuildChunk(parent Envelope, index, total int, chunkHash string) (Envelope, ChunkInfo) {
	info := ChunkInfo{
		ChunkID:     ChunkID(parent.DocID, index),
		Index:       index,
		ParentDocID: parent.DocID,
		Total:       total,
	}
	env := parent
	env.DocID = info.ChunkID
	env.HashContent = chunkHash
	return env, info
}

// MetadataHash computes the metadata fingerprint for env. Lifecycle
// fields are excluded by the fingerprint layer; metadata_hash itself is
// never an input to its own value.
func MetadataHash(env Envelope) string {
	fields := map[string]any{
		"doc_id":       env.DocID,
		"category":     string(env.Category),
		"hash_content": env.HashContent,
		"source":       string(env.Source),
		"repo":         env.Repo,
		"tags":         env.Tags,
	}
	if env.FilePath != "" {
		fields["file_path"] = env.FilePath
	}
	if env.FileHash != "" {
		fields["file_hash"] = env.FileHash
	}
	return fingerprint.Envelope(fields)
}
