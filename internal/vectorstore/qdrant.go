package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

var tracer = otel.Tracer("memoryd.vectorstore.qdrant")

// QdrantConfig configures the gRPC connection to an external Qdrant
// server. memoryd keeps one shared client and switches collections by
// name per call, rather than one client per collection (see
// tenant.CollectionName).
type QdrantConfig struct {
	Host                    string
	Port                    int
	UseTLS                  bool
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxMessageSize          int
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether err should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	metrics sync.Map // collection name -> DistanceMetric
	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, config: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check failed: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

func (s *QdrantStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *QdrantStore) retry(ctx context.Context, op string, fn func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			s.breaker.mu.Lock()
			s.breaker.failures = 0
			s.breaker.mu.Unlock()
			return nil
		}

		s.breaker.mu.Lock()
		if s.breaker.failures >= s.config.CircuitBreakerThreshold && time.Since(s.breaker.lastFail) < 30*time.Second {
			s.breaker.mu.Unlock()
			return fmt.Errorf("%s: circuit breaker open", op)
		}
		s.breaker.failures++
		s.breaker.lastFail = time.Now()
		s.breaker.mu.Unlock()

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", op, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, vectorSize int, metric DistanceMetric) error {
	if err := tenant.ValidateCollectionName(collection); err != nil {
		return err
	}
	dist := qdrant.Distance_Cosine
	if metric == DistanceL2 {
		dist = qdrant.Distance_Euclid
	}
	err := s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: dist,
			}),
		})
	})
	if err != nil {
		return err
	}
	s.metrics.Store(collection, metric)
	return nil
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	return s.retry(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, collection)
	})
}

// CollectionExists checks presence by requesting collection info and
// treating a gRPC NotFound as "does not exist" rather than an error —
// qdrant's client has no dedicated exists call.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := s.retry(ctx, "collection_exists", func() error {
		_, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	var info *qdrant.CollectionInfo
	err := s.retry(ctx, "get_collection_info", func() error {
		i, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		info = i
		return nil
	})
	if err != nil {
		return nil, err
	}

	count := 0
	if info.PointsCount != nil {
		count = int(*info.PointsCount)
	}
	size := 0
	if info.Config != nil && info.Config.Params != nil && info.Config.Params.VectorsConfig != nil {
		if p := info.Config.Params.VectorsConfig.GetParams(); p != nil {
			size = int(p.Size)
		}
	}
	return &CollectionInfo{Name: collection, PointCount: count, VectorSize: size}, nil
}

func (s *QdrantStore) distanceMetric(collection string) DistanceMetric {
	if v, ok := s.metrics.Load(collection); ok {
		return v.(DistanceMetric)
	}
	return DistanceCosine
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, rec Record) error {
	return s.UpsertBatch(ctx, collection, []Record{rec})
}

func (s *QdrantStore) UpsertBatch(ctx context.Context, collection string, recs []Record) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertBatch")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("count", len(recs)))

	if len(recs) == 0 {
		return ErrEmptyRecords
	}
	if err := tenant.ValidateCollectionName(collection); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(recs))
	for i, rec := range recs {
		payload, err := recordToPayload(rec)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	err := s.retry(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// pointID maps an arbitrary string source id onto a Qdrant point id.
// Qdrant requires ids to be either a u64 or a UUID, so non-UUID source ids
// are deterministically mapped into the UUID space (preserves idempotency:
// the same source id always yields the same point id).
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func recordToPayload(rec Record) (map[string]*qdrant.Value, error) {
	docJSON, err := json.Marshal(rec.Document)
	if err != nil {
		return nil, err
	}
	payload := map[string]*qdrant.Value{
		"source_id": {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
		"document":  {Kind: &qdrant.Value_StringValue{StringValue: string(docJSON)}},
	}
	if !rec.CreatedAt.IsZero() {
		payload["created_at"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.CreatedAt.UTC().Format(time.RFC3339Nano)}}
	}
	for k, v := range rec.Metadata {
		payload["meta_"+k] = toQdrantValue(v)
	}
	return payload, nil
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	default:
		b, _ := json.Marshal(val)
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: string(b)}}
	}
}

func payloadToRecord(payload map[string]*qdrant.Value) Record {
	rec := Record{Metadata: map[string]any{}}
	for k, v := range payload {
		switch k {
		case "source_id":
			rec.ID = v.GetStringValue()
		case "document":
			_ = json.Unmarshal([]byte(v.GetStringValue()), &rec.Document)
		case "created_at":
			if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
				rec.CreatedAt = t
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				rec.Metadata[k[5:]] = fromQdrantValue(v)
			}
		}
	}
	return rec
}

func fromQdrantValue(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func whereToFilter(where Where) *qdrant.Filter {
	if len(where) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(where))
	for key, value := range where {
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "meta_" + key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", value)}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conds}
}

func (s *QdrantStore) Query(ctx context.Context, collection string, queryVector []float32, k int, where Where) ([]SearchResult, error) {
	return s.query(ctx, collection, queryVector, k, where, nil, nil)
}

func (s *QdrantStore) QueryByTime(ctx context.Context, collection string, queryVector []float32, k int, start, end time.Time, where Where) ([]SearchResult, error) {
	return s.query(ctx, collection, queryVector, k, where, &start, &end)
}

func (s *QdrantStore) query(ctx context.Context, collection string, queryVector []float32, k int, where Where, start, end *time.Time) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	filter := whereToFilter(where)
	if start != nil && end != nil {
		rangeCond := &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "created_at",
					Range: &qdrant.Range{
						Gte: ptr(float64(start.UTC().Unix())),
						Lte: ptr(float64(end.UTC().Unix())),
					},
				},
			},
		}
		if filter == nil {
			filter = &qdrant.Filter{Must: []*qdrant.Condition{rangeCond}}
		} else {
			filter.Must = append(filter.Must, rangeCond)
		}
	}

	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	metric := s.distanceMetric(collection)
	results := make([]SearchResult, len(points))
	for i, p := range points {
		rec := payloadToRecord(p.Payload)
		// A cosine score is a similarity; a Euclid score is the distance itself.
		distance := 1 - p.Score
		if metric == DistanceL2 {
			distance = p.Score
		}
		results[i] = SearchResult{
			ID:         rec.ID,
			Similarity: metric.Similarity(distance),
			Document:   rec.Document,
			Metadata:   rec.Metadata,
			CreatedAt:  rec.CreatedAt,
		}
	}
	return results, nil
}

func (s *QdrantStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	var points []*qdrant.RetrievedPoint
	err := s.retry(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrRecordNotFound
	}
	rec := payloadToRecord(points[0].Payload)
	if v := points[0].Vectors.GetVector(); v != nil {
		rec.Vector = v.Data
	}
	return &rec, nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	return s.retry(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID(id)}},
				},
			},
		})
		return err
	})
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	info, err := s.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, err
	}
	return info.PointCount, nil
}

func ptr[T any](v T) *T { return &v }
