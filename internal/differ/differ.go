// Package differ decides which chunks of a new revision must be transmitted.
package differ

import (
	"github.com/starford/revsync/internal/apperr"
	"github.com/starford/revsync/internal/chunker"
	"github.com/starford/revsync/internal/models"
)

// Kind classifies a plan.
type Kind int

const (
	// KindCreate: no prior revision; register the file and send every chunk.
	KindCreate Kind = iota
	// KindUpdate: a prior revision exists and its content differs.
	KindUpdate
	// KindNoChange: whole-file digests match.
	KindNoChange
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindNoChange:
		return "no_change"
	default:
		return "unknown"
	}
}

// Plan is the result of a diff. Chunks is ordered by ordinal.
type Plan struct {
	Kind Kind
	// FullSet is set when every chunk is sent regardless of prior records.
	FullSet bool
	Chunks  []models.Chunk
}

// Diff compares next against prior (nil when the file is unknown).
//
// With an unchanged chunk count a chunk is selected when its prior record is
// missing, its digest differs, or its successor pointer differs. A changed
// count shifts every later ordinal, so positional comparison is skipped and
// the full set is sent. ErrNoChange is returned together with a KindNoChange
// plan when the whole-file digests match.
func Diff(next *chunker.Manifest, prior *models.FileManifest) (Plan, error) {
	if err := next.Validate(); err != nil {
		return Plan{}, err
	}

	if prior == nil {
		return Plan{Kind: KindCreate, FullSet: true, Chunks: next.Chunks}, nil
	}
	if prior.FileDigest == next.FileDigest {
		return Plan{Kind: KindNoChange}, apperr.ErrNoChange
	}
	if prior.ChunkCount != len(next.Chunks) {
		return Plan{Kind: KindUpdate, FullSet: true, Chunks: next.Chunks}, nil
	}

	selected := make([]models.Chunk, 0, len(next.Chunks))
	for _, c := range next.Chunks {
		rec, ok := prior.Chunks[c.ID]
		if !ok || rec.ChunkDigest != c.Digest || rec.NextChunkID != c.NextID {
			selected = append(selected, c)
		}
	}
	return Plan{
		Kind:    KindUpdate,
		FullSet: len(selected) == len(next.Chunks),
		Chunks:  selected,
	}, nil
}

// IDs returns the ordinals selected by p.
func (p Plan) IDs() []int {
	ids := make([]int, len(p.Chunks))
	for i, c := range p.Chunks {
		ids[i] = c.ID
	}
	return ids
}
