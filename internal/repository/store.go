package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/qdrant"
	"github.com/fyrsmithlabs/memoryd/internal/tenant"
)

const instrumentationName = "github.com/fyrsmithlabs/memoryd/internal/repository"

// recordVectorSize is the dimension of the derived, non-semantic vectors
// primary-store points carry. Qdrant requires every point in a collection
// to share one vector size; the value is never used for similarity search,
// only to satisfy that requirement, so it is kept small.
const recordVectorSize = 8

// ErrNotFound is returned when a record does not exist in its tenant's
// collection.
var ErrNotFound = errors.New("repository: record not found")

// Store is the primary store (spec.md §3/§4): the durable, tenant-scoped
// record of memory logs, mental notes, conversations, ICM logs, and
// retrieval logs.
type Store interface {
	SaveMemoryLog(ctx context.Context, t tenant.Info, log *MemoryLog) (*MemoryLog, error)
	GetMemoryLog(ctx context.Context, t tenant.Info, id string) (*MemoryLog, error)
	BackfillMemoryLogEmbedding(ctx context.Context, t tenant.Info, id string, embedding []float32) error
	MemoryLogsByAgent(ctx context.Context, t tenant.Info, agent string, filter ListFilter) ([]*MemoryLog, error)
	MemoryLogsByDateRange(ctx context.Context, t tenant.Info, since, until time.Time) ([]*MemoryLog, error)

	SaveMentalNote(ctx context.Context, t tenant.Info, note *MentalNote) (*MentalNote, error)
	GetMentalNote(ctx context.Context, t tenant.Info, id string) (*MentalNote, error)
	BackfillMentalNoteEmbedding(ctx context.Context, t tenant.Info, id string, embedding []float32) error
	MentalNotesBySession(ctx context.Context, t tenant.Info, sessionID string) ([]*MentalNote, error)

	SaveConversation(ctx context.Context, t tenant.Info, conv *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, t tenant.Info, id string) (*Conversation, error)
	RecentConversations(ctx context.Context, t tenant.Info, filter ListFilter) ([]*Conversation, error)
	CountConversationsInSession(ctx context.Context, t tenant.Info, sessionID string) (int, error)

	SaveICMLog(ctx context.Context, t tenant.Info, log *ICMLog) (*ICMLog, error)
	ICMLogsByRequest(ctx context.Context, t tenant.Info, requestID string) ([]*ICMLog, error)
	LatestWorldViewICMLog(ctx context.Context, t tenant.Info) (*ICMLog, error)
	ListICMLogs(ctx context.Context, t tenant.Info, icmType ICMType, filter ListFilter) ([]*ICMLog, error)

	SaveRetrievalLog(ctx context.Context, t tenant.Info, log *RetrievalLog) (*RetrievalLog, error)
	ListRetrievalLogs(ctx context.Context, t tenant.Info, filter ListFilter) ([]*RetrievalLog, error)

	Close() error
}

// qdrantStore implements Store against internal/qdrant.Client, using Qdrant
// purely as a filterable, durable key-value store (no similarity search is
// ever performed against these collections).
type qdrantStore struct {
	qdrant qdrant.Client
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
	listCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewStore creates a new primary store backed by qc.
func NewStore(qc qdrant.Client, logger *zap.Logger) (Store, error) {
	if qc == nil {
		return nil, errors.New("qdrant client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &qdrantStore{
		qdrant: qc,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *qdrantStore) initMetrics() {
	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"memoryd.repository.saves_total",
		metric.WithDescription("Total number of primary-store records saved"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
	s.listCounter, err = s.meter.Int64Counter(
		"memoryd.repository.list_queries_total",
		metric.WithDescription("Total number of primary-store list queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		s.logger.Warn("failed to create list counter", zap.Error(err))
	}
}

func (s *qdrantStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *qdrantStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("repository: store is closed")
	}
	return nil
}

// deriveVector produces a deterministic, non-semantic vector from seed so
// every point in a collection can share the fixed-size vector Qdrant
// requires. It carries no meaning and is never used for similarity search.
func deriveVector(seed string) []float32 {
	vector := make([]float32, recordVectorSize)
	for i := range vector {
		if i < len(seed) {
			vector[i] = float32(seed[i%len(seed)]) / 255.0
		}
	}
	return vector
}

func (s *qdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.qdrant.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		if err := s.qdrant.CreateCollection(ctx, collection, recordVectorSize); err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
	}
	return nil
}

func (s *qdrantStore) upsert(ctx context.Context, collection, id, seed string, payload map[string]interface{}) error {
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	point := &qdrant.Point{
		ID:      id,
		Vector:  deriveVector(seed),
		Payload: payload,
	}
	if err := s.qdrant.Upsert(ctx, collection, []*qdrant.Point{point}); err != nil {
		return fmt.Errorf("upserting record: %w", err)
	}
	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", collection)))
	}
	return nil
}

func (s *qdrantStore) getByID(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	exists, err := s.qdrant.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	points, err := s.qdrant.Get(ctx, collection, []string{id})
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}
	return points[0].Payload, nil
}

// listPoints runs filter over collection's points, returning up to
// filter.Limit results (0 means 100).
func (s *qdrantStore) listPoints(ctx context.Context, collection string, filter ListFilter, extra ...qdrant.Condition) ([]*qdrant.ScoredPoint, error) {
	exists, err := s.qdrant.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	qf := &qdrant.Filter{}
	qf.Must = append(qf.Must, extra...)
	if filter.SessionID != "" {
		qf.Must = append(qf.Must, qdrant.Condition{Field: "session_id", Match: filter.SessionID})
	}
	if filter.RequestID != "" {
		qf.Must = append(qf.Must, qdrant.Condition{Field: "request_id", Match: filter.RequestID})
	}
	if !filter.Since.IsZero() {
		since := float64(filter.Since.Unix())
		qf.Must = append(qf.Must, qdrant.Condition{Field: "created_at", Range: &qdrant.RangeCondition{Gte: &since}})
	}
	if !filter.Until.IsZero() {
		until := float64(filter.Until.Unix())
		qf.Must = append(qf.Must, qdrant.Condition{Field: "created_at", Range: &qdrant.RangeCondition{Lte: &until}})
	}

	limit := uint64(filter.Limit)
	if limit == 0 {
		limit = 100
	}

	var qfPtr *qdrant.Filter
	if len(qf.Must) > 0 {
		qfPtr = qf
	}

	results, err := s.qdrant.Search(ctx, collection, make([]float32, recordVectorSize), limit, qfPtr)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	if s.listCounter != nil {
		s.listCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", collection)))
	}
	return results, nil
}

// jsonEncode marshals v to a JSON string for storage in a scalar payload
// field; the underlying Qdrant client only accepts scalar values.
func jsonEncode(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func jsonDecode(s string, v interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt64(payload map[string]interface{}, key string) int64 {
	if v, ok := payload[key].(int64); ok {
		return v
	}
	if v, ok := payload[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func payloadFloat64(payload map[string]interface{}, key string) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return 0
}

func newID() string {
	return uuid.New().String()
}

// --- MemoryLog ---

func (s *qdrantStore) memoryLogCollection(t tenant.Info) (string, error) {
	return collectionName(recordKindMemoryLog, t)
}

func memoryLogToPayload(m *MemoryLog) map[string]interface{} {
	return map[string]interface{}{
		"user_id":      m.UserID,
		"project_id":   m.ProjectID,
		"task":         m.Task,
		"agent":        m.Agent,
		"created_at":   m.CreatedAt.Unix(),
		"raw_data":     jsonEncode(m.RawData),
		"has_embedding": len(m.Embedding) > 0,
	}
}

func payloadToMemoryLog(id string, payload map[string]interface{}) *MemoryLog {
	m := &MemoryLog{
		ID:        id,
		UserID:    payloadString(payload, "user_id"),
		ProjectID: payloadString(payload, "project_id"),
		Task:      payloadString(payload, "task"),
		Agent:     payloadString(payload, "agent"),
		CreatedAt: time.Unix(payloadInt64(payload, "created_at"), 0).UTC(),
	}
	jsonDecode(payloadString(payload, "raw_data"), &m.RawData)
	return m
}

func (s *qdrantStore) SaveMemoryLog(ctx context.Context, t tenant.Info, log *MemoryLog) (*MemoryLog, error) {
	ctx, span := s.tracer.Start(ctx, "repository.save_memory_log")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if log.ID == "" {
		log.ID = newID()
	}
	log.UserID, log.ProjectID = t.UserID, t.ProjectID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	collection, err := s.memoryLogCollection(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.upsert(ctx, collection, log.ID, log.RawData.Content, memoryLogToPayload(log)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.logger.Info("saved memory log", zap.String("id", log.ID), zap.String("agent", log.Agent))
	return log, nil
}

func (s *qdrantStore) GetMemoryLog(ctx context.Context, t tenant.Info, id string) (*MemoryLog, error) {
	ctx, span := s.tracer.Start(ctx, "repository.get_memory_log")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	collection, err := s.memoryLogCollection(t)
	if err != nil {
		return nil, err
	}
	payload, err := s.getByID(ctx, collection, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return payloadToMemoryLog(id, payload), nil
}

func (s *qdrantStore) BackfillMemoryLogEmbedding(ctx context.Context, t tenant.Info, id string, embedding []float32) error {
	log, err := s.GetMemoryLog(ctx, t, id)
	if err != nil {
		return err
	}
	log.Embedding = embedding
	collection, err := s.memoryLogCollection(t)
	if err != nil {
		return err
	}
	return s.upsert(ctx, collection, id, log.RawData.Content, memoryLogToPayload(log))
}

func (s *qdrantStore) MemoryLogsByAgent(ctx context.Context, t tenant.Info, agent string, filter ListFilter) ([]*MemoryLog, error) {
	ctx, span := s.tracer.Start(ctx, "repository.memory_logs_by_agent")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	collection, err := s.memoryLogCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, filter, qdrant.Condition{Field: "agent", Match: agent})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logs := make([]*MemoryLog, 0, len(results))
	for _, r := range results {
		logs = append(logs, payloadToMemoryLog(r.ID, r.Payload))
	}
	return logs, nil
}

func (s *qdrantStore) MemoryLogsByDateRange(ctx context.Context, t tenant.Info, since, until time.Time) ([]*MemoryLog, error) {
	collection, err := s.memoryLogCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, ListFilter{Since: since, Until: until})
	if err != nil {
		return nil, err
	}
	logs := make([]*MemoryLog, 0, len(results))
	for _, r := range results {
		logs = append(logs, payloadToMemoryLog(r.ID, r.Payload))
	}
	return logs, nil
}

// --- MentalNote ---

func (s *qdrantStore) mentalNoteCollection(t tenant.Info) (string, error) {
	return collectionName(recordKindMentalNote, t)
}

func mentalNoteToPayload(n *MentalNote) map[string]interface{} {
	return map[string]interface{}{
		"user_id":        n.UserID,
		"project_id":     n.ProjectID,
		"session_id":     n.SessionID,
		"start_time_ms":  n.StartTime.UnixMilli(),
		"created_at":     n.StartTime.Unix(),
		"raw_data":       jsonEncode(n.RawData),
		"has_embedding":  len(n.Embedding) > 0,
	}
}

func payloadToMentalNote(id string, payload map[string]interface{}) *MentalNote {
	n := &MentalNote{
		ID:        id,
		UserID:    payloadString(payload, "user_id"),
		ProjectID: payloadString(payload, "project_id"),
		SessionID: payloadString(payload, "session_id"),
		StartTime: time.UnixMilli(payloadInt64(payload, "start_time_ms")).UTC(),
	}
	jsonDecode(payloadString(payload, "raw_data"), &n.RawData)
	return n
}

func (s *qdrantStore) SaveMentalNote(ctx context.Context, t tenant.Info, note *MentalNote) (*MentalNote, error) {
	ctx, span := s.tracer.Start(ctx, "repository.save_mental_note")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if note.ID == "" {
		note.ID = newID()
	}
	note.UserID, note.ProjectID = t.UserID, t.ProjectID
	if note.StartTime.IsZero() {
		note.StartTime = time.Now().UTC()
	}

	collection, err := s.mentalNoteCollection(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.upsert(ctx, collection, note.ID, note.RawData.Content, mentalNoteToPayload(note)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.logger.Info("saved mental note", zap.String("id", note.ID), zap.String("session_id", note.SessionID))
	return note, nil
}

func (s *qdrantStore) GetMentalNote(ctx context.Context, t tenant.Info, id string) (*MentalNote, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	collection, err := s.mentalNoteCollection(t)
	if err != nil {
		return nil, err
	}
	payload, err := s.getByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return payloadToMentalNote(id, payload), nil
}

func (s *qdrantStore) BackfillMentalNoteEmbedding(ctx context.Context, t tenant.Info, id string, embedding []float32) error {
	note, err := s.GetMentalNote(ctx, t, id)
	if err != nil {
		return err
	}
	note.Embedding = embedding
	collection, err := s.mentalNoteCollection(t)
	if err != nil {
		return err
	}
	return s.upsert(ctx, collection, id, note.RawData.Content, mentalNoteToPayload(note))
}

func (s *qdrantStore) MentalNotesBySession(ctx context.Context, t tenant.Info, sessionID string) ([]*MentalNote, error) {
	collection, err := s.mentalNoteCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, ListFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	notes := make([]*MentalNote, 0, len(results))
	for _, r := range results {
		notes = append(notes, payloadToMentalNote(r.ID, r.Payload))
	}
	return notes, nil
}

// --- Conversation ---

func (s *qdrantStore) conversationCollection(t tenant.Info) (string, error) {
	return collectionName(recordKindConversation, t)
}

func conversationToPayload(c *Conversation) map[string]interface{} {
	return map[string]interface{}{
		"user_id":         c.UserID,
		"project_id":      c.ProjectID,
		"conversation_id": c.ConversationID,
		"session_id":      c.SessionID,
		"model":           c.Model,
		"created_at":      c.CreatedAt.Unix(),
		"raw_data":        jsonEncode(c.RawData),
	}
}

func payloadToConversation(id string, payload map[string]interface{}) *Conversation {
	c := &Conversation{
		ID:             id,
		UserID:         payloadString(payload, "user_id"),
		ProjectID:      payloadString(payload, "project_id"),
		ConversationID: payloadString(payload, "conversation_id"),
		SessionID:      payloadString(payload, "session_id"),
		Model:          payloadString(payload, "model"),
		CreatedAt:      time.Unix(payloadInt64(payload, "created_at"), 0).UTC(),
	}
	jsonDecode(payloadString(payload, "raw_data"), &c.RawData)
	return c
}

func (s *qdrantStore) SaveConversation(ctx context.Context, t tenant.Info, conv *Conversation) (*Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "repository.save_conversation")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = newID()
	}
	if conv.ConversationID == "" {
		conv.ConversationID = conv.ID
	}
	conv.UserID, conv.ProjectID = t.UserID, t.ProjectID
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	collection, err := s.conversationCollection(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	seed := conv.ConversationID
	if err := s.upsert(ctx, collection, conv.ID, seed, conversationToPayload(conv)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.logger.Info("saved conversation", zap.String("id", conv.ID), zap.Int("turns", len(conv.RawData)))
	return conv, nil
}

func (s *qdrantStore) GetConversation(ctx context.Context, t tenant.Info, id string) (*Conversation, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	collection, err := s.conversationCollection(t)
	if err != nil {
		return nil, err
	}
	payload, err := s.getByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return payloadToConversation(id, payload), nil
}

func (s *qdrantStore) RecentConversations(ctx context.Context, t tenant.Info, filter ListFilter) ([]*Conversation, error) {
	collection, err := s.conversationCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	convs := make([]*Conversation, 0, len(results))
	for _, r := range results {
		convs = append(convs, payloadToConversation(r.ID, r.Payload))
	}
	return convs, nil
}

func (s *qdrantStore) CountConversationsInSession(ctx context.Context, t tenant.Info, sessionID string) (int, error) {
	collection, err := s.conversationCollection(t)
	if err != nil {
		return 0, err
	}
	results, err := s.listPoints(ctx, collection, ListFilter{SessionID: sessionID})
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// --- ICMLog ---

func (s *qdrantStore) icmLogCollection(t tenant.Info) (string, error) {
	return collectionName(recordKindICMLog, t)
}

func icmLogToPayload(l *ICMLog) map[string]interface{} {
	return map[string]interface{}{
		"user_id":        l.UserID,
		"project_id":     l.ProjectID,
		"request_id":     l.RequestID,
		"icm_type":       string(l.ICMType),
		"created_at":     l.CreatedAt.Unix(),
		"payload":        jsonEncode(l.Payload),
		"results_count":  int64(l.ResultsCount),
		"limit":          int64(l.Limit),
		"min_similarity": l.MinSimilarity,
	}
}

func payloadToICMLog(id string, payload map[string]interface{}) *ICMLog {
	l := &ICMLog{
		ID:            id,
		UserID:        payloadString(payload, "user_id"),
		ProjectID:     payloadString(payload, "project_id"),
		RequestID:     payloadString(payload, "request_id"),
		ICMType:       ICMType(payloadString(payload, "icm_type")),
		CreatedAt:     time.Unix(payloadInt64(payload, "created_at"), 0).UTC(),
		ResultsCount:  int(payloadInt64(payload, "results_count")),
		Limit:         int(payloadInt64(payload, "limit")),
		MinSimilarity: payloadFloat64(payload, "min_similarity"),
	}
	jsonDecode(payloadString(payload, "payload"), &l.Payload)
	return l
}

func (s *qdrantStore) SaveICMLog(ctx context.Context, t tenant.Info, log *ICMLog) (*ICMLog, error) {
	ctx, span := s.tracer.Start(ctx, "repository.save_icm_log")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !log.ICMType.valid() {
		return nil, fmt.Errorf("repository: invalid icm_type %q", log.ICMType)
	}
	if log.ID == "" {
		log.ID = newID()
	}
	log.UserID, log.ProjectID = t.UserID, t.ProjectID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	collection, err := s.icmLogCollection(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.upsert(ctx, collection, log.ID, log.RequestID+string(log.ICMType), icmLogToPayload(log)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return log, nil
}

func (s *qdrantStore) ICMLogsByRequest(ctx context.Context, t tenant.Info, requestID string) ([]*ICMLog, error) {
	collection, err := s.icmLogCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, ListFilter{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	logs := make([]*ICMLog, 0, len(results))
	for _, r := range results {
		logs = append(logs, payloadToICMLog(r.ID, r.Payload))
	}
	return logs, nil
}

// LatestWorldViewICMLog returns the most recently created world_view ICM
// log for the tenant, used by components that read back another
// component's most recent output (spec.md §4.6).
func (s *qdrantStore) LatestWorldViewICMLog(ctx context.Context, t tenant.Info) (*ICMLog, error) {
	logs, err := s.ListICMLogs(ctx, t, ICMTypeWorldView, ListFilter{Limit: 1000})
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, ErrNotFound
	}
	latest := logs[0]
	for _, l := range logs[1:] {
		if l.CreatedAt.After(latest.CreatedAt) {
			latest = l
		}
	}
	return latest, nil
}

func (s *qdrantStore) ListICMLogs(ctx context.Context, t tenant.Info, icmType ICMType, filter ListFilter) ([]*ICMLog, error) {
	collection, err := s.icmLogCollection(t)
	if err != nil {
		return nil, err
	}
	var extra []qdrant.Condition
	if icmType != "" {
		extra = append(extra, qdrant.Condition{Field: "icm_type", Match: string(icmType)})
	}
	results, err := s.listPoints(ctx, collection, filter, extra...)
	if err != nil {
		return nil, err
	}
	logs := make([]*ICMLog, 0, len(results))
	for _, r := range results {
		logs = append(logs, payloadToICMLog(r.ID, r.Payload))
	}
	return logs, nil
}

// --- RetrievalLog ---

func (s *qdrantStore) retrievalLogCollection(t tenant.Info) (string, error) {
	return collectionName(recordKindRetrievalLog, t)
}

func retrievalLogToPayload(l *RetrievalLog) map[string]interface{} {
	return map[string]interface{}{
		"user_id":    l.UserID,
		"project_id": l.ProjectID,
		"request_id": l.RequestID,
		"skipped":    l.Skipped,
		"created_at": l.CreatedAt.Unix(),
		"results":    jsonEncode(l.Results),
	}
}

func payloadToRetrievalLog(id string, payload map[string]interface{}) *RetrievalLog {
	l := &RetrievalLog{
		ID:        id,
		UserID:    payloadString(payload, "user_id"),
		ProjectID: payloadString(payload, "project_id"),
		RequestID: payloadString(payload, "request_id"),
		CreatedAt: time.Unix(payloadInt64(payload, "created_at"), 0).UTC(),
	}
	if v, ok := payload["skipped"].(bool); ok {
		l.Skipped = v
	}
	jsonDecode(payloadString(payload, "results"), &l.Results)
	return l
}

func (s *qdrantStore) SaveRetrievalLog(ctx context.Context, t tenant.Info, log *RetrievalLog) (*RetrievalLog, error) {
	ctx, span := s.tracer.Start(ctx, "repository.save_retrieval_log")
	defer span.End()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if log.ID == "" {
		log.ID = newID()
	}
	log.UserID, log.ProjectID = t.UserID, t.ProjectID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	collection, err := s.retrievalLogCollection(t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.upsert(ctx, collection, log.ID, log.RequestID, retrievalLogToPayload(log)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return log, nil
}

func (s *qdrantStore) ListRetrievalLogs(ctx context.Context, t tenant.Info, filter ListFilter) ([]*RetrievalLog, error) {
	collection, err := s.retrievalLogCollection(t)
	if err != nil {
		return nil, err
	}
	results, err := s.listPoints(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	logs := make([]*RetrievalLog, 0, len(results))
	for _, r := range results {
		logs = append(logs, payloadToRetrievalLog(r.ID, r.Payload))
	}
	return logs, nil
}
