package knowledgebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/models"
)

// bedrockMaxDocuments is the per-call document limit of the direct ingestion API.
const bedrockMaxDocuments = 10

// BedrockAPI is the subset of the bedrock-agent client the backend calls.
type BedrockAPI interface {
	IngestKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.IngestKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.IngestKnowledgeBaseDocumentsOutput, error)
	GetKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.GetKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseDocumentsOutput, error)
	DeleteKnowledgeBaseDocuments(ctx context.Context, in *bedrockagent.DeleteKnowledgeBaseDocumentsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.DeleteKnowledgeBaseDocumentsOutput, error)
}

// BedrockBackend pushes chunks as inline text documents into a custom data
// source of an Amazon Bedrock knowledge base.
type BedrockBackend struct {
	api BedrockAPI
}

func NewBedrockBackend(ctx context.Context, region, accessKey, secretKey string) (*BedrockBackend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Info().Str("region", region).Msg("bedrock knowledge base backend enabled")
	return NewBedrockBackendWithAPI(bedrockagent.NewFromConfig(awsCfg)), nil
}

func NewBedrockBackendWithAPI(api BedrockAPI) *BedrockBackend {
	return &BedrockBackend{api: api}
}

func (b *BedrockBackend) Kind() models.BackendKind { return models.BackendBedrock }

// SupportsUpsert is false: each ingest starts an indexing run, so records
// already present are skipped.
func (b *BedrockBackend) SupportsUpsert() bool { return false }

func (b *BedrockBackend) Ingest(ctx context.Context, kb *models.KnowledgeBase, records []Record) ([]RecordResult, error) {
	if err := checkBedrockKB(kb); err != nil {
		return nil, err
	}
	out := make([]RecordResult, 0, len(records))
	for start := 0; start < len(records); start += bedrockMaxDocuments {
		part := records[start:min(start+bedrockMaxDocuments, len(records))]
		docs := make([]bedrocktypes.KnowledgeBaseDocument, len(part))
		for i, r := range part {
			docs[i] = bedrockDocument(r)
		}

		resp, err := b.api.IngestKnowledgeBaseDocuments(ctx, &bedrockagent.IngestKnowledgeBaseDocumentsInput{
			KnowledgeBaseId: aws.String(kb.ExternalID),
			DataSourceId:    aws.String(kb.DataSourceID),
			Documents:       docs,
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock ingest: %w", err)
		}

		failed := make(map[string]error)
		for _, d := range resp.DocumentDetails {
			if d.Status == bedrocktypes.DocumentStatusFailed {
				failed[customID(d.Identifier)] = errors.New(aws.ToString(d.StatusReason))
			}
		}
		for _, r := range part {
			out = append(out, RecordResult{Key: r.Key, Ref: r.Key, Err: failed[r.Key]})
		}
	}
	return out, nil
}

func (b *BedrockBackend) Exists(ctx context.Context, kb *models.KnowledgeBase, keys []string) (map[string]bool, error) {
	if err := checkBedrockKB(kb); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	for start := 0; start < len(keys); start += bedrockMaxDocuments {
		part := keys[start:min(start+bedrockMaxDocuments, len(keys))]
		resp, err := b.api.GetKnowledgeBaseDocuments(ctx, &bedrockagent.GetKnowledgeBaseDocumentsInput{
			KnowledgeBaseId:     aws.String(kb.ExternalID),
			DataSourceId:        aws.String(kb.DataSourceID),
			DocumentIdentifiers: identifiers(part),
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock get documents: %w", err)
		}
		for _, d := range resp.DocumentDetails {
			switch d.Status {
			case bedrocktypes.DocumentStatusNotFound, bedrocktypes.DocumentStatusFailed,
				bedrocktypes.DocumentStatusDeleting, bedrocktypes.DocumentStatusDeleteInProgress:
			default:
				out[customID(d.Identifier)] = true
			}
		}
	}
	return out, nil
}

// Delete needs explicit keys: custom data sources cannot be filtered by document.
func (b *BedrockBackend) Delete(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error {
	if err := checkBedrockKB(kb); err != nil {
		return err
	}
	for start := 0; start < len(keys); start += bedrockMaxDocuments {
		part := keys[start:min(start+bedrockMaxDocuments, len(keys))]
		_, err := b.api.DeleteKnowledgeBaseDocuments(ctx, &bedrockagent.DeleteKnowledgeBaseDocumentsInput{
			KnowledgeBaseId:     aws.String(kb.ExternalID),
			DataSourceId:        aws.String(kb.DataSourceID),
			DocumentIdentifiers: identifiers(part),
		})
		if err != nil {
			return fmt.Errorf("bedrock delete documents of %s: %w", documentID, err)
		}
	}
	return nil
}

// Search goes through the bedrock-agent-runtime Retrieve API, which this
// service does not call.
func (b *BedrockBackend) Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]Hit, error) {
	return nil, ErrSearchUnsupported
}

func checkBedrockKB(kb *models.KnowledgeBase) error {
	if kb.ExternalID == "" || kb.DataSourceID == "" {
		return fmt.Errorf("knowledge base %s: bedrock needs external_id and data_source_id", kb.ID)
	}
	return nil
}

func bedrockDocument(r Record) bedrocktypes.KnowledgeBaseDocument {
	return bedrocktypes.KnowledgeBaseDocument{
		Content: &bedrocktypes.DocumentContent{
			DataSourceType: bedrocktypes.ContentDataSourceTypeCustom,
			Custom: &bedrocktypes.CustomContent{
				CustomDocumentIdentifier: &bedrocktypes.CustomDocumentIdentifier{Id: aws.String(r.Key)},
				SourceType:               bedrocktypes.CustomSourceTypeInLine,
				InlineContent: &bedrocktypes.InlineContent{
					Type:        bedrocktypes.InlineContentTypeText,
					TextContent: &bedrocktypes.TextContentDoc{Data: aws.String(r.Text)},
				},
			},
		},
		Metadata: &bedrocktypes.DocumentMetadata{
			Type: bedrocktypes.MetadataSourceTypeInLineAttribute,
			InlineAttributes: []bedrocktypes.MetadataAttribute{
				stringAttribute("document_id", r.DocumentID),
				stringAttribute("domain", r.Domain),
				stringAttribute("file_name", r.FileName),
			},
		},
	}
}

func stringAttribute(key, value string) bedrocktypes.MetadataAttribute {
	return bedrocktypes.MetadataAttribute{
		Key: aws.String(key),
		Value: &bedrocktypes.MetadataAttributeValue{
			Type:        bedrocktypes.MetadataValueTypeString,
			StringValue: aws.String(value),
		},
	}
}

func identifiers(keys []string) []bedrocktypes.DocumentIdentifier {
	out := make([]bedrocktypes.DocumentIdentifier, len(keys))
	for i, k := range keys {
		out[i] = bedrocktypes.DocumentIdentifier{
			DataSourceType: bedrocktypes.ContentDataSourceTypeCustom,
			Custom:         &bedrocktypes.CustomDocumentIdentifier{Id: aws.String(k)},
		}
	}
	return out
}

func customID(id *bedrocktypes.DocumentIdentifier) string {
	if id == nil || id.Custom == nil {
		return ""
	}
	return aws.ToString(id.Custom.Id)
}
