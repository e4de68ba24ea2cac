package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/BaSui01/memflow/internal/tlsutil"
	"github.com/BaSui01/memflow/types"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	Collection string `yaml:"collection" json:"collection"`
	// VectorSize is the embedding dimension used when the collection has to
	// be created.
	VectorSize uint64 `yaml:"vector_size" json:"vector_size"`
	// TLS secures the gRPC channel, required by hosted Qdrant.
	TLS bool `yaml:"tls" json:"tls"`
}

// DefaultQdrantConfig returns defaults for a local Qdrant instance.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "memflow_memories",
		VectorSize: 1536,
	}
}

const qdrantScrollPageSize = 256

// Qdrant is a vector store backed by Qdrant's gRPC API. Unlike the other
// backends it scores on the server, so it requires an embedder.
type Qdrant struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient

	collection string
	embedder   Embedder
	logger     *zap.Logger

	Now func() time.Time
}

// NewQdrant dials the Qdrant gRPC endpoint and ensures the collection
// exists.
func NewQdrant(ctx context.Context, cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*Qdrant, error) {
	if embedder == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "qdrant store requires an embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultQdrantConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = def.VectorSize
	}

	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(tlsutil.DefaultTLSConfig())
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "qdrant connect "+addr).WithCause(err).WithRetryable(true)
	}

	s := &Qdrant{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		embedder:    embedder,
		logger:      logger.With(zap.String("component", "store.qdrant")),
		Now:         time.Now,
	}
	if err := s.ensureCollection(ctx, cfg.VectorSize); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Qdrant) ensureCollection(ctx context.Context, dimension uint64) error {
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err == nil {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "create collection "+s.collection).WithCause(err).WithRetryable(true)
	}
	return nil
}

// StoreMemories upserts one point per memory. Memories without an embedding
// are embedded from their text content; embedding failure fails the write.
func (s *Qdrant) StoreMemories(ctx context.Context, memories []types.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	now := s.Now()

	points := make([]*pb.PointStruct, 0, len(memories))
	for i := range memories {
		m := memories[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.LifecycleStage == "" {
			m.LifecycleStage = types.StageNew
		}
		if len(m.Embedding) == 0 {
			vec, err := s.embedder.Embed(ctx, m.TextContent)
			if err != nil {
				return types.NewError(types.ErrModelFailure, "embed memory "+m.ID).WithCause(err).WithRetryable(true)
			}
			m.Embedding = vec
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return types.NewError(types.ErrInternal, "marshal memory").WithCause(err)
		}
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: m.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: m.Embedding}}},
			Payload: map[string]*pb.Value{
				"data":      {Kind: &pb.Value_StringValue{StringValue: string(payload)}},
				"thread_id": {Kind: &pb.Value_StringValue{StringValue: m.ThreadID}},
			},
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "qdrant upsert failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// RetrieveRelevant returns memories ranked by relevance to the query.
func (s *Qdrant) RetrieveRelevant(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]types.Memory, error) {
	scored, err := s.RetrieveRelevantWithScore(ctx, query, threadID, opts)
	if err != nil {
		return nil, err
	}
	return stripScores(scored), nil
}

// RetrieveRelevantWithScore searches server-side for non-empty queries and
// scrolls the whole thread for match-all retrieval.
func (s *Qdrant) RetrieveRelevantWithScore(ctx context.Context, query, threadID string, opts RetrieveOptions) ([]ScoredMemory, error) {
	if query == "" {
		return s.scrollAll(ctx, threadID, opts.Limit)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrModelFailure, "embed query").WithCause(err).WithRetryable(true)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         threadFilter(threadID),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if opts.ScoreThreshold > 0 {
		threshold := float32(opts.ScoreThreshold)
		req.ScoreThreshold = &threshold
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "qdrant search failed").WithCause(err).WithRetryable(true)
	}

	scored := make([]ScoredMemory, 0, len(resp.Result))
	for _, hit := range resp.Result {
		m, ok := s.decodePayload(hit.Payload)
		if !ok {
			continue
		}
		scored = append(scored, ScoredMemory{Memory: m, Score: float64(hit.Score)})
	}
	return scored, nil
}

// scrollAll pages through every point in the thread scope. Used for the
// match-all retrieval the consolidation engine performs.
func (s *Qdrant) scrollAll(ctx context.Context, threadID string, limit int) ([]ScoredMemory, error) {
	var (
		scored []ScoredMemory
		offset *pb.PointId
	)
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         threadFilter(threadID),
			Limit:          func(v uint32) *uint32 { return &v }(qdrantScrollPageSize),
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, types.NewError(types.ErrStoreUnavailable, "qdrant scroll failed").WithCause(err).WithRetryable(true)
		}
		for _, point := range resp.Result {
			m, ok := s.decodePayload(point.Payload)
			if !ok {
				continue
			}
			scored = append(scored, ScoredMemory{Memory: m, Score: 1})
			if limit > 0 && len(scored) >= limit {
				return scored, nil
			}
		}
		if resp.NextPageOffset == nil {
			return scored, nil
		}
		offset = resp.NextPageOffset
	}
}

func (s *Qdrant) decodePayload(payload map[string]*pb.Value) (types.Memory, bool) {
	var m types.Memory
	raw, ok := payload["data"]
	if !ok {
		return m, false
	}
	sv, ok := raw.Kind.(*pb.Value_StringValue)
	if !ok {
		return m, false
	}
	if err := json.Unmarshal([]byte(sv.StringValue), &m); err != nil {
		s.logger.Warn("skipping undecodable point payload", zap.Error(err))
		return m, false
	}
	return m, true
}

func threadFilter(threadID string) *pb.Filter {
	if threadID == "" {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   "thread_id",
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: threadID}},
					},
				},
			},
		},
	}
}

// ClearThreadMemories deletes all points whose payload carries the thread ID.
func (s *Qdrant) ClearThreadMemories(ctx context.Context, threadID string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: threadFilter(threadID)},
		},
	})
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "qdrant delete failed").WithCause(err).WithRetryable(true)
	}
	return nil
}

// HealthStatus checks the collection is reachable.
func (s *Qdrant) HealthStatus(ctx context.Context) HealthStatus {
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return HealthStatus{Available: false, Connected: false, Error: err.Error()}
	}
	return HealthStatus{Available: true, Connected: true}
}

// Close tears down the underlying gRPC connection.
func (s *Qdrant) Close() error {
	return s.conn.Close()
}
