// Package qdrant implements the episodic store on a Qdrant collection.
// Multi-user isolation relies on a user_id payload field filtered on every
// query, backed by a keyword payload index.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/embedding"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

const (
	fieldUserID    = "user_id"
	fieldText      = "text"
	fieldCreatedAt = "created_at"
)

type episodicRepository struct {
	client     *qdrant.Client
	embedder   embedding.Embedder
	collection string
}

// NewEpisodicRepository wraps an injected Qdrant client and embedder.
// Call Init once at startup to ensure the collection and payload index.
func NewEpisodicRepository(client *qdrant.Client, embedder embedding.Embedder, collection string) interfaces.EpisodicStore {
	return &episodicRepository{
		client:     client,
		embedder:   embedder,
		collection: collection,
	}
}

// Init creates the collection (cosine distance, embedder dimension) and the
// user_id keyword index if they do not exist yet.
func Init(ctx context.Context, client *qdrant.Client, embedder embedding.Embedder, collection string) error {
	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	logger.Infof(ctx, "creating qdrant collection %s (dim=%d)", collection, embedder.Dimension())
	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(embedder.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}

	// Keyword index on the partition key keeps filtered queries fast.
	_, err = client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      fieldUserID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s on %s: %w", fieldUserID, collection, err)
	}
	return nil
}

func userFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(fieldUserID, userID)},
	}
}

func (r *episodicRepository) Add(ctx context.Context, userID, text string) (string, error) {
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed memory: %w", err)
	}

	pointID := uuid.New().String()
	_, err = r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					fieldUserID:    userID,
					fieldText:      text,
					fieldCreatedAt: types.Timestamp(time.Now()),
				}),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert memory: %w", err)
	}

	logger.Debugf(ctx, "stored episodic memory %s for user %s", pointID, userID)
	return pointID, nil
}

func (r *episodicRepository) Search(ctx context.Context, userID, query string, k int) ([]types.EpisodicMemory, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	memories := make([]types.EpisodicMemory, 0, len(hits))
	for _, hit := range hits {
		m := fromPayload(hit.Id, hit.Payload)
		m.Score = float64(hit.Score)
		m.Scored = true
		memories = append(memories, m)
	}
	return memories, nil
}

func (r *episodicRepository) List(ctx context.Context, userID string, limit int) ([]types.EpisodicMemory, error) {
	records, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: r.collection,
		Filter:         userFilter(userID),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	memories := make([]types.EpisodicMemory, 0, len(records))
	for _, rec := range records {
		memories = append(memories, fromPayload(rec.Id, rec.Payload))
	}
	// Scroll order is unspecified; newest first is the contract.
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt > memories[j].CreatedAt
	})
	return memories, nil
}

func (r *episodicRepository) DeleteOne(ctx context.Context, id string) error {
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
	}
	return nil
}

func (r *episodicRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Points:         qdrant.NewPointsSelectorFilter(userFilter(userID)),
	})
	if err != nil {
		return fmt.Errorf("failed to clear memories for user %s: %w", userID, err)
	}
	return nil
}

func (r *episodicRepository) Health(ctx context.Context) error {
	if _, err := r.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

func fromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value) types.EpisodicMemory {
	m := types.EpisodicMemory{ID: id.GetUuid()}
	if v, ok := payload[fieldText]; ok {
		m.Text = v.GetStringValue()
	}
	if v, ok := payload[fieldCreatedAt]; ok {
		m.CreatedAt = v.GetStringValue()
	}
	return m
}
