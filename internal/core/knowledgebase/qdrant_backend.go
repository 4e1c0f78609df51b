package knowledgebase

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// pointNamespace derives stable point ids from record keys.
var pointNamespace = uuid.MustParse("6f1c55a2-3a7e-4c1e-9a43-1f0d7a9b2e10")

// PointID maps a record key to its qdrant point id.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// QdrantBackend stores chunks as points in the collection named by the
// knowledge base's ExternalID.
type QdrantBackend struct {
	client   *qdrant.Client
	embedder core.EmbeddingProvider
	dim      uint64

	mu    sync.Mutex
	ready map[string]bool
}

func NewQdrantBackend(addr, apiKey string, embedder core.EmbeddingProvider, dim int) (*QdrantBackend, error) {
	host, port, err := ParseQdrantAddr(addr)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	log.Info().Str("addr", addr).Msg("connected to qdrant")
	return &QdrantBackend{client: client, embedder: embedder, dim: uint64(dim), ready: make(map[string]bool)}, nil
}

func (b *QdrantBackend) Close() error { return b.client.Close() }

func (b *QdrantBackend) Kind() models.BackendKind { return models.BackendQdrant }

// SupportsUpsert is true: point ids are derived from record keys.
func (b *QdrantBackend) SupportsUpsert() bool { return true }

func (b *QdrantBackend) collection(kb *models.KnowledgeBase) string {
	if kb.ExternalID != "" {
		return kb.ExternalID
	}
	return "kb_" + kb.ID
}

// ensureCollection creates the collection on first use.
func (b *QdrantBackend) ensureCollection(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready[name] {
		return nil
	}

	collections, err := b.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	exists := false
	for _, c := range collections {
		if c == name {
			exists = true
			break
		}
	}
	if !exists {
		err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     b.dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %q: %w", name, err)
		}
		log.Info().Str("collection", name).Uint64("dim", b.dim).Msg("created qdrant collection")
	}
	b.ready[name] = true
	return nil
}

func (b *QdrantBackend) Ingest(ctx context.Context, kb *models.KnowledgeBase, records []Record) ([]RecordResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	name := b.collection(kb)
	if err := b.ensureCollection(ctx, name); err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(records) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(records))
	}

	points := make([]*qdrant.PointStruct, len(records))
	out := make([]RecordResult, len(records))
	for i, r := range records {
		id := PointID(r.Key)
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"key":         r.Key,
				"document_id": r.DocumentID,
				"version":     int64(r.Version),
				"index":       int64(r.Index),
				"text":        r.Text,
				"domain":      r.Domain,
				"file_name":   r.FileName,
			}),
		}
		out[i] = RecordResult{Key: r.Key, Ref: id}
	}

	wait := true
	if _, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return nil, fmt.Errorf("qdrant upsert: %w", err)
	}
	return out, nil
}

func (b *QdrantBackend) Exists(ctx context.Context, kb *models.KnowledgeBase, keys []string) (map[string]bool, error) {
	name := b.collection(kb)
	if err := b.ensureCollection(ctx, name); err != nil {
		return nil, err
	}
	ids := make([]*qdrant.PointId, len(keys))
	byID := make(map[string]string, len(keys))
	for i, k := range keys {
		id := PointID(k)
		ids[i] = qdrant.NewIDUUID(id)
		byID[id] = k
	}
	points, err := b.client.Get(ctx, &qdrant.GetPoints{CollectionName: name, Ids: ids})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	out := make(map[string]bool, len(points))
	for _, p := range points {
		if k, ok := byID[p.GetId().GetUuid()]; ok {
			out[k] = true
		}
	}
	return out, nil
}

func (b *QdrantBackend) Delete(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error {
	name := b.collection(kb)
	if err := b.ensureCollection(ctx, name); err != nil {
		return err
	}

	var selector *qdrant.PointsSelector
	if len(keys) == 0 {
		selector = qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		})
	} else {
		ids := make([]*qdrant.PointId, len(keys))
		for i, k := range keys {
			ids[i] = qdrant.NewIDUUID(PointID(k))
		}
		selector = qdrant.NewPointsSelector(ids...)
	}

	wait := true
	if _, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         selector,
	}); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]Hit, error) {
	qvec, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: b.collection(kb),
		Query:          qdrant.NewQuery(qvec...),
		Limit:          &topK,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if documentID != "" {
		req.Filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)}}
	}
	points, err := b.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{Score: p.GetScore()}
		if v, ok := p.Payload["document_id"]; ok {
			h.DocumentID = v.GetStringValue()
		}
		if v, ok := p.Payload["index"]; ok {
			h.Index = int(v.GetIntegerValue())
		}
		if v, ok := p.Payload["text"]; ok {
			h.Text = v.GetStringValue()
		}
		if v, ok := p.Payload["file_name"]; ok {
			h.FileName = v.GetStringValue()
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// ParseQdrantAddr splits a gRPC address of the form host:port.
func ParseQdrantAddr(addr string) (string, int, error) {
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		return "", 0, fmt.Errorf("qdrant address %q: want host:port without a scheme", addr)
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("qdrant address %q: %w", addr, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("qdrant address %q: missing host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("qdrant address %q: invalid port %q", addr, portStr)
	}
	return host, port, nil
}
