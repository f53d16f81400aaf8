package products

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pricewatch/internal/aws"
)

// DynamoCache persists products in a DynamoDB table keyed by cache_key.
type DynamoCache struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoCache returns a Cache backed by the given products table.
func NewDynamoCache(client aws.DynamoDBAPI, tableName string) *DynamoCache {
	return &DynamoCache{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// GetFresh reads the product for the key and applies the freshness window.
func (c *DynamoCache) GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*Product, error) {
	out, err := c.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			"cache_key": &types.AttributeValueMemberS{Value: cacheKey(store, url)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	if !p.Fresh(c.nowFunc(), ttl) {
		return nil, nil
	}
	return &p, nil
}

// Put upserts the product, stamping unstamped products with the current
// time.
func (c *DynamoCache) Put(ctx context.Context, p Product) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = c.nowFunc()
	}

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	item["cache_key"] = &types.AttributeValueMemberS{Value: cacheKey(p.Store, p.URL)}

	// Unconditional put: last write wins.
	if _, err := c.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &c.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}
