// Package dynamo stores catalog records in a DynamoDB table. Conditional
// writes give the create-only semantics, so several builders can register
// versions of the same index concurrently.
//
// Table schema:
//   - Partition key: name (string)
//   - Sort key: version (number)
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name knn-catalog \
//	  --attribute-definitions AttributeName=name,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=name,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/knnlib/catalog"
)

// Client is the subset of the DynamoDB API the catalog uses.
// *dynamodb.Client satisfies it.
type Client interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

const (
	attrName    = "name"
	attrVersion = "version"
	attrCodec   = "codec"
	attrRecord  = "record"
)

// Catalog is a catalog.Catalog backed by DynamoDB.
type Catalog struct {
	client Client
	table  string
}

var _ catalog.Catalog = (*Catalog)(nil)

// New loads the default AWS configuration and opens table.
func New(ctx context.Context, table, region string) (*Catalog, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return NewCatalog(dynamodb.NewFromConfig(cfg), table), nil
}

// NewCatalog wraps an existing client.
func NewCatalog(client Client, table string) *Catalog {
	return &Catalog{client: client, table: table}
}

func key(name string, version int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrName:    &types.AttributeValueMemberS{Value: name},
		attrVersion: &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
	}
}

func decodeItem(item map[string]types.AttributeValue) (catalog.Record, error) {
	codecAttr, ok := item[attrCodec].(*types.AttributeValueMemberS)
	if !ok {
		return catalog.Record{}, errors.New("dynamo: invalid codec attribute")
	}
	recordAttr, ok := item[attrRecord].(*types.AttributeValueMemberS)
	if !ok {
		return catalog.Record{}, errors.New("dynamo: invalid record attribute")
	}
	return catalog.Decode(codecAttr.Value, []byte(recordAttr.Value))
}

// Put writes rec with a condition that the key is not taken yet.
func (c *Catalog) Put(ctx context.Context, rec catalog.Record) error {
	if err := catalog.Validate(rec); err != nil {
		return err
	}
	codecName, data, err := catalog.Encode(rec)
	if err != nil {
		return err
	}

	item := key(rec.Name, rec.Version)
	item[attrCodec] = &types.AttributeValueMemberS{Value: codecName}
	item[attrRecord] = &types.AttributeValueMemberS{Value: string(data)}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s@%d", catalog.ErrConflict, rec.Name, rec.Version)
		}
		return fmt.Errorf("dynamo: put %s@%d: %w", rec.Name, rec.Version, err)
	}
	return nil
}

func (c *Catalog) Get(ctx context.Context, name string, version int64) (catalog.Record, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            key(name, version),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("dynamo: get %s@%d: %w", name, version, err)
	}
	if len(resp.Item) == 0 {
		return catalog.Record{}, fmt.Errorf("%w: %s@%d", catalog.ErrNotFound, name, version)
	}
	return decodeItem(resp.Item)
}

// Latest queries the partition in descending version order.
func (c *Catalog) Latest(ctx context.Context, name string) (catalog.Record, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("#n = :name"),
		ExpressionAttributeNames: map[string]string{
			"#n": attrName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return catalog.Record{}, fmt.Errorf("dynamo: query %s: %w", name, err)
	}
	if len(resp.Items) == 0 {
		return catalog.Record{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, name)
	}
	return decodeItem(resp.Items[0])
}

func (c *Catalog) List(ctx context.Context, name string) ([]catalog.Record, error) {
	var items []map[string]types.AttributeValue
	if name != "" {
		p := dynamodb.NewQueryPaginator(c.client, &dynamodb.QueryInput{
			TableName:                aws.String(c.table),
			KeyConditionExpression:   aws.String("#n = :name"),
			ExpressionAttributeNames: map[string]string{"#n": attrName},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":name": &types.AttributeValueMemberS{Value: name},
			},
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("dynamo: query %s: %w", name, err)
			}
			items = append(items, page.Items...)
		}
	} else {
		p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
			TableName: aws.String(c.table),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("dynamo: scan: %w", err)
			}
			items = append(items, page.Items...)
		}
	}

	recs := make([]catalog.Record, 0, len(items))
	for _, item := range items {
		rec, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	slices.SortFunc(recs, func(a, b catalog.Record) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
	return recs, nil
}

// Close is a no-op; the client owns no resources.
func (c *Catalog) Close() error { return nil }
